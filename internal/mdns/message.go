package mdns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DNS record types used by mDNS service discovery (RFC 1035 / RFC 6762)
const (
	TypeA     uint16 = 1  // IPv4 host address
	TypeCNAME uint16 = 5  // Canonical name alias
	TypePTR   uint16 = 12 // Service-type to instance pointer
	TypeTXT   uint16 = 16 // Key=value metadata
	TypeAAAA  uint16 = 28 // IPv6 host address (decoded but unused)
	TypeSRV   uint16 = 33 // Host/port service location
)

// ClassIN is the Internet class, the only class seen on a local segment
const ClassIN uint16 = 1

// Header flag bits (big-endian position within the 16-bit flags field)
const (
	FlagResponse         uint16 = 0x8000
	FlagAuthoritative    uint16 = 0x0400
	FlagTruncated        uint16 = 0x0200
	FlagRecursionDesired uint16 = 0x0100
)

const (
	// headerSize is the fixed DNS header length
	headerSize = 12

	// maxLabelLength is the RFC 1035 limit for a single name label
	maxLabelLength = 63

	// maxCompressionJumps bounds pointer chasing so a malformed
	// self-referential pointer cannot loop the decoder forever
	maxCompressionJumps = 16

	// txtSeparator joins decoded TXT character-strings for storage
	txtSeparator = ";"
)

// Codec errors returned by Decode. All of them mean "drop this datagram";
// none of them are fatal to a receive loop.
var (
	ErrMessageTooShort = errors.New("mdns: message shorter than DNS header")
	ErrFieldTruncated  = errors.New("mdns: field exceeds message bounds")
	ErrPointerLoop     = errors.New("mdns: compression pointer limit exceeded")
)

// Question is a single query entry: a dotted service name plus type and class.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// SRVData is the decoded payload of an SRV record.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// String returns the conventional "priority weight port target" rendering.
func (s *SRVData) String() string {
	return fmt.Sprintf("%d %d %d %s", s.Priority, s.Weight, s.Port, s.Target)
}

// ResourceRecord is one decoded answer/authority/additional entry.
//
// Data holds the type-dependent payload rendered as a string: a dotted-quad
// for A records, a dotted name for PTR/CNAME, joined character-strings for
// TXT, and the target name for SRV (the full tuple lives in SRV).
type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  string
	SRV   *SRVData
}

// Message is a DNS message in the shape mDNS uses it: a 12-byte header
// followed by four record sections. Section counts in the encoded header
// always match the list lengths.
type Message struct {
	ID         uint16
	Flags      uint16
	Questions  []Question
	Answers    []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// IsResponse reports whether the QR header bit is set.
func (m *Message) IsResponse() bool {
	return m.Flags&FlagResponse != 0
}

// Records returns all answer, authority and additional records in wire order.
func (m *Message) Records() []ResourceRecord {
	records := make([]ResourceRecord, 0, len(m.Answers)+len(m.Authority)+len(m.Additional))
	records = append(records, m.Answers...)
	records = append(records, m.Authority...)
	records = append(records, m.Additional...)
	return records
}

// NewQuery builds a question-only message for the given DNS-SD service types
// (e.g. "_onvif._tcp.local."). Transaction id is 0 per RFC 6762 §18.1 and
// all answer/authority/additional counts are zero.
func NewQuery(serviceTypes ...string) *Message {
	msg := &Message{}
	for _, serviceType := range serviceTypes {
		msg.Questions = append(msg.Questions, Question{
			Name:  serviceType,
			Type:  TypePTR,
			Class: ClassIN,
		})
	}
	return msg
}

// Encode serializes the message into DNS wire format. All multi-byte fields
// are big-endian. Labels longer than 63 bytes are dropped from the encoded
// name rather than aborting the whole message.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+48*(len(m.Questions)+len(m.Answers)))
	binary.BigEndian.PutUint16(buf[0:2], m.ID)
	binary.BigEndian.PutUint16(buf[2:4], m.Flags)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(m.Questions)))
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(m.Answers)))
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(m.Authority)))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(m.Additional)))

	for _, q := range m.Questions {
		buf = appendName(buf, q.Name)
		buf = binary.BigEndian.AppendUint16(buf, q.Type)
		buf = binary.BigEndian.AppendUint16(buf, q.Class)
	}

	var err error
	for _, section := range [][]ResourceRecord{m.Answers, m.Authority, m.Additional} {
		for _, rr := range section {
			buf, err = appendRecord(buf, rr)
			if err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// appendName appends a dotted name as length-prefixed labels terminated by a
// zero-length label. Empty and over-long labels are skipped.
func appendName(buf []byte, name string) []byte {
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > maxLabelLength {
			continue
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0)
}

// appendRecord appends one resource record: name, type, class, TTL and a
// 2-byte length-prefixed, type-specific payload.
func appendRecord(buf []byte, rr ResourceRecord) ([]byte, error) {
	buf = appendName(buf, rr.Name)
	buf = binary.BigEndian.AppendUint16(buf, rr.Type)
	buf = binary.BigEndian.AppendUint16(buf, rr.Class)
	buf = binary.BigEndian.AppendUint32(buf, rr.TTL)

	rdata, err := encodeRecordData(rr)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(rdata)))
	return append(buf, rdata...), nil
}

func encodeRecordData(rr ResourceRecord) ([]byte, error) {
	switch rr.Type {
	case TypeA:
		ip := net.ParseIP(rr.Data)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("mdns: invalid A record address %q", rr.Data)
		}
		return []byte(ip.To4()), nil

	case TypePTR, TypeCNAME:
		return appendName(nil, rr.Data), nil

	case TypeTXT:
		var rdata []byte
		for _, segment := range strings.Split(rr.Data, txtSeparator) {
			if len(segment) > 255 {
				continue
			}
			rdata = append(rdata, byte(len(segment)))
			rdata = append(rdata, segment...)
		}
		return rdata, nil

	case TypeSRV:
		if rr.SRV == nil {
			return nil, fmt.Errorf("mdns: SRV record %q has no payload", rr.Name)
		}
		rdata := binary.BigEndian.AppendUint16(nil, rr.SRV.Priority)
		rdata = binary.BigEndian.AppendUint16(rdata, rr.SRV.Weight)
		rdata = binary.BigEndian.AppendUint16(rdata, rr.SRV.Port)
		return appendName(rdata, rr.SRV.Target), nil

	default:
		// Unknown types carry their payload verbatim
		return []byte(rr.Data), nil
	}
}

// Decode parses a DNS wire-format datagram. It fails cleanly (nil message,
// descriptive error) on anything truncated or garbled; it never panics on
// arbitrary input.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, ErrMessageTooShort
	}

	msg := &Message{
		ID:    binary.BigEndian.Uint16(data[0:2]),
		Flags: binary.BigEndian.Uint16(data[2:4]),
	}
	questionCount := int(binary.BigEndian.Uint16(data[4:6]))
	answerCount := int(binary.BigEndian.Uint16(data[6:8]))
	authorityCount := int(binary.BigEndian.Uint16(data[8:10]))
	additionalCount := int(binary.BigEndian.Uint16(data[10:12]))

	offset := headerSize
	for i := 0; i < questionCount; i++ {
		name, next, err := decodeName(data, offset)
		if err != nil {
			return nil, err
		}
		if next+4 > len(data) {
			return nil, ErrFieldTruncated
		}
		msg.Questions = append(msg.Questions, Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(data[next : next+2]),
			Class: binary.BigEndian.Uint16(data[next+2 : next+4]),
		})
		offset = next + 4
	}

	var err error
	if msg.Answers, offset, err = decodeRecords(data, offset, answerCount); err != nil {
		return nil, err
	}
	if msg.Authority, offset, err = decodeRecords(data, offset, authorityCount); err != nil {
		return nil, err
	}
	if msg.Additional, _, err = decodeRecords(data, offset, additionalCount); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeRecords(data []byte, offset, count int) ([]ResourceRecord, int, error) {
	var records []ResourceRecord
	for i := 0; i < count; i++ {
		name, next, err := decodeName(data, offset)
		if err != nil {
			return nil, 0, err
		}
		// type(2) class(2) ttl(4) rdlength(2)
		if next+10 > len(data) {
			return nil, 0, ErrFieldTruncated
		}
		rr := ResourceRecord{
			Name:  name,
			Type:  binary.BigEndian.Uint16(data[next : next+2]),
			Class: binary.BigEndian.Uint16(data[next+2 : next+4]),
			TTL:   binary.BigEndian.Uint32(data[next+4 : next+8]),
		}
		rdLength := int(binary.BigEndian.Uint16(data[next+8 : next+10]))
		rdStart := next + 10
		if rdStart+rdLength > len(data) {
			return nil, 0, ErrFieldTruncated
		}
		if err := decodeRecordData(data, rdStart, rdLength, &rr); err != nil {
			return nil, 0, err
		}
		records = append(records, rr)
		offset = rdStart + rdLength
	}
	return records, offset, nil
}

// decodeName reads a possibly-compressed name starting at offset. It returns
// the dotted name (with trailing dot) and the offset of the first byte after
// the name *at its original position* - after a compression pointer, parsing
// resumes past the 2-byte pointer, not at the pointer target.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	resume := -1
	jumps := 0

	for {
		if offset >= len(data) {
			return "", 0, ErrFieldTruncated
		}
		length := int(data[offset])
		switch {
		case length == 0:
			if resume < 0 {
				resume = offset + 1
			}
			if len(labels) == 0 {
				return ".", resume, nil
			}
			return strings.Join(labels, ".") + ".", resume, nil

		case length&0xC0 == 0xC0:
			// Two top bits set: 14-bit back-pointer into the message
			if offset+1 >= len(data) {
				return "", 0, ErrFieldTruncated
			}
			jumps++
			if jumps > maxCompressionJumps {
				return "", 0, ErrPointerLoop
			}
			if resume < 0 {
				resume = offset + 2
			}
			pointer := (length&0x3F)<<8 | int(data[offset+1])
			if pointer >= len(data) {
				return "", 0, ErrFieldTruncated
			}
			offset = pointer

		default:
			if offset+1+length > len(data) {
				return "", 0, ErrFieldTruncated
			}
			labels = append(labels, string(data[offset+1:offset+1+length]))
			offset += 1 + length
		}
	}
}

// decodeRecordData fills rr.Data (and rr.SRV for SRV records) from the
// type-specific payload at data[start:start+length]. Names inside payloads
// may use compression pointers into the full message.
func decodeRecordData(data []byte, start, length int, rr *ResourceRecord) error {
	switch rr.Type {
	case TypeA:
		if length < 4 {
			return ErrFieldTruncated
		}
		rr.Data = fmt.Sprintf("%d.%d.%d.%d", data[start], data[start+1], data[start+2], data[start+3])

	case TypePTR, TypeCNAME:
		name, _, err := decodeName(data, start)
		if err != nil {
			return err
		}
		rr.Data = name

	case TypeTXT:
		rr.Data = decodeCharacterStrings(data[start : start+length])

	case TypeSRV:
		if length < 6 {
			return ErrFieldTruncated
		}
		target, _, err := decodeName(data, start+6)
		if err != nil {
			return err
		}
		rr.SRV = &SRVData{
			Priority: binary.BigEndian.Uint16(data[start : start+2]),
			Weight:   binary.BigEndian.Uint16(data[start+2 : start+4]),
			Port:     binary.BigEndian.Uint16(data[start+4 : start+6]),
			Target:   target,
		}
		rr.Data = target

	default:
		// Keep unknown payloads as hex so nothing is silently lost
		rr.Data = fmt.Sprintf("%x", data[start:start+length])
	}
	return nil
}

// decodeCharacterStrings splits a TXT payload into its DNS character-strings
// (each prefixed by a length byte) and rejoins them with txtSeparator.
func decodeCharacterStrings(payload []byte) string {
	var segments []string
	for offset := 0; offset < len(payload); {
		length := int(payload[offset])
		offset++
		if length == 0 {
			continue
		}
		if offset+length > len(payload) {
			// Truncated final segment: keep what is there
			segments = append(segments, string(payload[offset:]))
			break
		}
		segments = append(segments, string(payload[offset:offset+length]))
		offset += length
	}
	return strings.Join(segments, txtSeparator)
}
