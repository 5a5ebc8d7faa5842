package crdtdoc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// op is one register write: the path of map keys leading to the
// register's parent map, the register's own key, the dot that wrote it,
// and the value written. It is the unit an update is built from.
type op struct {
	path []string
	key  string
	dot  Dot
	val  Value
}

func encodeUpdate(ops []op) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(ops)))
	for _, o := range ops {
		writeUvarint(&buf, uint64(len(o.path)))
		for _, seg := range o.path {
			writeString(&buf, seg)
		}
		writeString(&buf, o.key)
		writeString(&buf, o.dot.Replica)
		writeUvarint(&buf, o.dot.Counter)
		writeValue(&buf, o.val)
	}
	return buf.Bytes()
}

func decodeUpdate(data []byte) ([]op, error) {
	r := bytes.NewReader(data)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if len(data) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("crdtdoc: decode op count: %w", err)
	}
	ops := make([]op, 0, n)
	for i := uint64(0); i < n; i++ {
		pathLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode path length: %w", err)
		}
		path := make([]string, pathLen)
		for j := range path {
			path[j], err = readString(r)
			if err != nil {
				return nil, fmt.Errorf("crdtdoc: decode path segment: %w", err)
			}
		}
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode key: %w", err)
		}
		replica, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode replica: %w", err)
		}
		counter, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode counter: %w", err)
		}
		val, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode value: %w", err)
		}
		if pathLen == 0 {
			return nil, fmt.Errorf("crdtdoc: op with empty path")
		}
		ops = append(ops, op{path: path, key: key, dot: Dot{Replica: replica, Counter: counter}, val: val})
	}
	return ops, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Float))
		buf.Write(tmp[:])
	case KindString:
		writeString(buf, v.Str)
	case KindNull, KindMap:
		// no payload: null carries no data, map values never appear
		// as a register write (see MapHandle.SubMap).
	}
}

func readValue(r *bytes.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch ValueKind(kindByte) {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindFloat64:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return Value{}, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))), nil
	case KindString:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	default:
		return Value{}, fmt.Errorf("crdtdoc: unknown value kind %d", kindByte)
	}
}

// EncodeStateVector and DecodeStateVector let the session handler and
// store treat a state vector as an opaque blob alongside update blobs.
func EncodeStateVector(sv StateVector) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(sv)))
	for replica, counter := range sv {
		writeString(&buf, replica)
		writeUvarint(&buf, counter)
	}
	return buf.Bytes()
}

func DecodeStateVector(data []byte) (StateVector, error) {
	r := bytes.NewReader(data)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if len(data) == 0 {
			return StateVector{}, nil
		}
		return nil, fmt.Errorf("crdtdoc: decode state vector count: %w", err)
	}
	sv := make(StateVector, n)
	for i := uint64(0); i < n; i++ {
		replica, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode state vector replica: %w", err)
		}
		counter, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("crdtdoc: decode state vector counter: %w", err)
		}
		sv[replica] = counter
	}
	return sv, nil
}
