package mdns

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestNewQuery(t *testing.T) {
	msg := NewQuery("_onvif._tcp.local.", "_http._tcp.local.")

	if msg.ID != 0 {
		t.Errorf("transaction id = %d, want 0", msg.ID)
	}
	if msg.IsResponse() {
		t.Error("query must not have the response flag set")
	}
	if len(msg.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(msg.Questions))
	}
	for _, q := range msg.Questions {
		if q.Type != TypePTR {
			t.Errorf("question type = %d, want PTR (%d)", q.Type, TypePTR)
		}
		if q.Class != ClassIN {
			t.Errorf("question class = %d, want IN (%d)", q.Class, ClassIN)
		}
	}
	if len(msg.Answers)+len(msg.Authority)+len(msg.Additional) != 0 {
		t.Error("query must carry no answer/authority/additional records")
	}
}

func TestQueryRoundTrip(t *testing.T) {
	serviceTypes := []string{
		"_onvif._tcp.local.",
		"_rtsp._tcp.local.",
		"_services._dns-sd._udp.local.",
	}
	data, err := NewQuery(serviceTypes...).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.ID != 0 {
		t.Errorf("decoded id = %d, want 0", decoded.ID)
	}
	if len(decoded.Questions) != len(serviceTypes) {
		t.Fatalf("decoded questions = %d, want %d", len(decoded.Questions), len(serviceTypes))
	}
	for i, q := range decoded.Questions {
		if q.Name != serviceTypes[i] {
			t.Errorf("question[%d] name = %q, want %q", i, q.Name, serviceTypes[i])
		}
		if q.Type != TypePTR || q.Class != ClassIN {
			t.Errorf("question[%d] type/class = %d/%d, want %d/%d", i, q.Type, q.Class, TypePTR, ClassIN)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name:    "empty input",
			data:    nil,
			wantErr: ErrMessageTooShort,
		},
		{
			name:    "eleven bytes",
			data:    make([]byte, 11),
			wantErr: ErrMessageTooShort,
		},
		{
			name: "question count exceeds data",
			data: func() []byte {
				data := make([]byte, headerSize)
				binary.BigEndian.PutUint16(data[4:6], 3)
				return data
			}(),
			wantErr: ErrFieldTruncated,
		},
		{
			name: "label runs past end",
			data: func() []byte {
				data := make([]byte, headerSize)
				binary.BigEndian.PutUint16(data[4:6], 1)
				return append(data, 40, 'a', 'b')
			}(),
			wantErr: ErrFieldTruncated,
		},
		{
			name: "rdata longer than message",
			data: func() []byte {
				data := make([]byte, headerSize)
				binary.BigEndian.PutUint16(data[6:8], 1)
				data = append(data, 1, 'a', 0) // name "a."
				data = binary.BigEndian.AppendUint16(data, TypeA)
				data = binary.BigEndian.AppendUint16(data, ClassIN)
				data = binary.BigEndian.AppendUint32(data, 120)
				data = binary.BigEndian.AppendUint16(data, 200) // rdlength
				return append(data, 192, 168)
			}(),
			wantErr: ErrFieldTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.data)
			if msg != nil {
				t.Error("Decode() returned a message for malformed input")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// compressedResponse hand-builds a response whose second answer name and
// whose PTR target both use a compression pointer back to offset 12.
func compressedResponse() []byte {
	data := make([]byte, headerSize)
	binary.BigEndian.PutUint16(data[2:4], FlagResponse|FlagAuthoritative)
	binary.BigEndian.PutUint16(data[6:8], 2) // two answers

	// Answer 1: "_onvif._tcp.local." PTR "cam._onvif._tcp.local."
	data = append(data, 6)
	data = append(data, "_onvif"...)
	data = append(data, 4)
	data = append(data, "_tcp"...)
	data = append(data, 5)
	data = append(data, "local"...)
	data = append(data, 0)
	data = binary.BigEndian.AppendUint16(data, TypePTR)
	data = binary.BigEndian.AppendUint16(data, ClassIN)
	data = binary.BigEndian.AppendUint32(data, 120)
	data = binary.BigEndian.AppendUint16(data, 6) // "cam" + pointer
	data = append(data, 3)
	data = append(data, "cam"...)
	data = append(data, 0xC0, 0x0C)

	// Answer 2: name is a bare pointer to offset 12, then an A record.
	data = append(data, 0xC0, 0x0C)
	data = binary.BigEndian.AppendUint16(data, TypeA)
	data = binary.BigEndian.AppendUint16(data, ClassIN)
	data = binary.BigEndian.AppendUint32(data, 120)
	data = binary.BigEndian.AppendUint16(data, 4)
	return append(data, 192, 168, 1, 10)
}

func TestDecode_NameCompression(t *testing.T) {
	msg, err := Decode(compressedResponse())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(msg.Answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(msg.Answers))
	}

	ptr := msg.Answers[0]
	if ptr.Name != "_onvif._tcp.local." {
		t.Errorf("answer[0] name = %q, want %q", ptr.Name, "_onvif._tcp.local.")
	}
	if ptr.Data != "cam._onvif._tcp.local." {
		t.Errorf("PTR target = %q, want %q", ptr.Data, "cam._onvif._tcp.local.")
	}

	// Parsing must have resumed after the pointer, not at its target: the
	// second answer must decode intact.
	a := msg.Answers[1]
	if a.Name != "_onvif._tcp.local." {
		t.Errorf("answer[1] name = %q, want %q", a.Name, "_onvif._tcp.local.")
	}
	if a.Type != TypeA || a.Data != "192.168.1.10" {
		t.Errorf("answer[1] = type %d data %q, want A %q", a.Type, a.Data, "192.168.1.10")
	}

	// The compressed message must decode to the same names as its
	// fully-expanded equivalent.
	expanded, err := (&Message{
		Flags: FlagResponse | FlagAuthoritative,
		Answers: []ResourceRecord{
			{Name: "_onvif._tcp.local.", Type: TypePTR, Class: ClassIN, TTL: 120, Data: "cam._onvif._tcp.local."},
			{Name: "_onvif._tcp.local.", Type: TypeA, Class: ClassIN, TTL: 120, Data: "192.168.1.10"},
		},
	}).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	plain, err := Decode(expanded)
	if err != nil {
		t.Fatalf("Decode(expanded) error = %v", err)
	}
	for i := range plain.Answers {
		if plain.Answers[i].Name != msg.Answers[i].Name {
			t.Errorf("answer[%d] name mismatch: expanded %q, compressed %q",
				i, plain.Answers[i].Name, msg.Answers[i].Name)
		}
		if plain.Answers[i].Data != msg.Answers[i].Data {
			t.Errorf("answer[%d] data mismatch: expanded %q, compressed %q",
				i, plain.Answers[i].Data, msg.Answers[i].Data)
		}
	}
}

func TestDecode_SelfReferentialPointer(t *testing.T) {
	data := make([]byte, headerSize)
	binary.BigEndian.PutUint16(data[6:8], 1)
	// Name at offset 12 is a pointer to offset 12: must terminate, not loop.
	data = append(data, 0xC0, 0x0C)

	msg, err := Decode(data)
	if msg != nil {
		t.Error("Decode() returned a message for a pointer loop")
	}
	if !errors.Is(err, ErrPointerLoop) {
		t.Errorf("Decode() error = %v, want %v", err, ErrPointerLoop)
	}
}

func TestDecode_RecordPayloads(t *testing.T) {
	tests := []struct {
		name   string
		record ResourceRecord
		verify func(t *testing.T, rr ResourceRecord)
	}{
		{
			name:   "A record renders dotted quad",
			record: ResourceRecord{Name: "cam.local.", Type: TypeA, Class: ClassIN, TTL: 120, Data: "192.168.1.10"},
			verify: func(t *testing.T, rr ResourceRecord) {
				if rr.Data != "192.168.1.10" {
					t.Errorf("A data = %q, want %q", rr.Data, "192.168.1.10")
				}
			},
		},
		{
			name: "SRV record keeps full tuple",
			record: ResourceRecord{
				Name: "cam._rtsp._tcp.local.", Type: TypeSRV, Class: ClassIN, TTL: 120,
				SRV: &SRVData{Priority: 0, Weight: 0, Port: 554, Target: "cam.local."},
			},
			verify: func(t *testing.T, rr ResourceRecord) {
				if rr.SRV == nil {
					t.Fatal("SRV payload missing")
				}
				if rr.SRV.Priority != 0 || rr.SRV.Weight != 0 || rr.SRV.Port != 554 || rr.SRV.Target != "cam.local." {
					t.Errorf("SRV = %s, want 0 0 554 cam.local.", rr.SRV)
				}
			},
		},
		{
			name:   "TXT character-strings rejoined",
			record: ResourceRecord{Name: "cam._onvif._tcp.local.", Type: TypeTXT, Class: ClassIN, TTL: 120, Data: "md=DS-2CD2085;mfg=Hikvision"},
			verify: func(t *testing.T, rr ResourceRecord) {
				if rr.Data != "md=DS-2CD2085;mfg=Hikvision" {
					t.Errorf("TXT data = %q, want %q", rr.Data, "md=DS-2CD2085;mfg=Hikvision")
				}
			},
		},
		{
			name:   "PTR record decodes nested name",
			record: ResourceRecord{Name: "_http._tcp.local.", Type: TypePTR, Class: ClassIN, TTL: 120, Data: "printer._http._tcp.local."},
			verify: func(t *testing.T, rr ResourceRecord) {
				if rr.Data != "printer._http._tcp.local." {
					t.Errorf("PTR data = %q, want %q", rr.Data, "printer._http._tcp.local.")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := (&Message{Flags: FlagResponse, Answers: []ResourceRecord{tt.record}}).Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			msg, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(msg.Answers) != 1 {
				t.Fatalf("answers = %d, want 1", len(msg.Answers))
			}
			if msg.Answers[0].Type != tt.record.Type {
				t.Errorf("type = %d, want %d", msg.Answers[0].Type, tt.record.Type)
			}
			tt.verify(t, msg.Answers[0])
		})
	}
}

func TestEncode_OverlongLabelDropped(t *testing.T) {
	overlong := strings.Repeat("x", maxLabelLength+1)
	data, err := NewQuery(overlong + "._tcp.local.").Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(msg.Questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(msg.Questions))
	}
	if got := msg.Questions[0].Name; got != "_tcp.local." {
		t.Errorf("name = %q, want %q (overlong label dropped)", got, "_tcp.local.")
	}
}

func TestDecode_HeaderCountsMatchSections(t *testing.T) {
	msg := &Message{
		Flags: FlagResponse,
		Questions: []Question{
			{Name: "_onvif._tcp.local.", Type: TypePTR, Class: ClassIN},
		},
		Answers: []ResourceRecord{
			{Name: "cam.local.", Type: TypeA, Class: ClassIN, TTL: 60, Data: "10.0.0.9"},
		},
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if got := binary.BigEndian.Uint16(data[4:6]); got != 1 {
		t.Errorf("header question count = %d, want 1", got)
	}
	if got := binary.BigEndian.Uint16(data[6:8]); got != 1 {
		t.Errorf("header answer count = %d, want 1", got)
	}
	if got := binary.BigEndian.Uint16(data[8:10]); got != 0 {
		t.Errorf("header authority count = %d, want 0", got)
	}
	if got := binary.BigEndian.Uint16(data[10:12]); got != 0 {
		t.Errorf("header additional count = %d, want 0", got)
	}
}
