package configtable

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
)

const (
	typeDelimiter   = "!"
	columnDelimiter = "|"

	structTag = "configtable"
)

type column struct {
	name       string
	colType    string
	byteLength int
}

// A Decoder reads a Blizzard config table from an input stream.
//
// Config tables are the pipe-delimited, typed-header CSV format used by
// .build.info and versions: a header row of Name!TYPE:width columns
// followed by one data row per record. Three column types are
// recognised: STRING (free text, optionally split on a delimiter into
// a []string), HEX (a hex-encoded byte string, decodable into a
// string, []byte or fixed-size [N]byte), and DEC (a decimal integer).
type Decoder struct {
	columns     []column
	columnNames map[string]int
	s           *bufio.Scanner
	err         error
}

func (d *Decoder) line() (string, error) {
	if d.err != nil {
		return "", d.err
	}
	if !d.s.Scan() {
		d.err = d.s.Err()
		if d.err == nil {
			d.err = io.EOF
		}
		return "", d.err
	}
	return d.s.Text(), nil
}

func (d *Decoder) readHeader() error {
	if d.columns != nil {
		// already done, don't trigger twice
		return nil
	}

	headerLine, err := d.line()
	if err != nil {
		return err
	}
	fullHeaders := strings.Split(headerLine, columnDelimiter)

	columns := make([]column, len(fullHeaders))
	columnNames := make(map[string]int)
	for n, h := range fullHeaders {
		bits := strings.SplitN(h, typeDelimiter, 2)
		if len(bits) != 2 {
			d.err = fmt.Errorf("configtable: missing type delimiter in header %q", h)
			return d.err
		}

		typeBits := strings.SplitN(bits[1], ":", 2)
		if len(typeBits) != 2 {
			d.err = fmt.Errorf("configtable: missing byte length in type %q", bits[1])
			return d.err
		}
		byteLength, err := strconv.Atoi(typeBits[1])
		if err != nil {
			d.err = fmt.Errorf("configtable: bad byte length in type %q: %v", bits[1], err)
			return d.err
		}
		colType := strings.ToLower(typeBits[0])
		switch colType {
		case "string", "hex", "dec":
		default:
			d.err = fmt.Errorf("configtable: unsupported type %q", bits[1])
			return d.err
		}

		columns[n] = column{
			name:       bits[0],
			colType:    colType,
			byteLength: byteLength,
		}

		if _, ok := columnNames[bits[0]]; ok {
			d.err = fmt.Errorf("configtable: duplicate column name %q", bits[0])
			return d.err
		}
		columnNames[bits[0]] = n
	}
	d.columns = columns
	d.columnNames = columnNames

	return nil
}

// byteWidth returns the width in bytes, and signedness, of a native
// integer kind. It panics on any kind that isn't a fixed-width integer,
// since that indicates a programmer error in a DEC-typed struct field.
func byteWidth(k reflect.Kind) (width int, unsigned bool) {
	switch k {
	case reflect.Int, reflect.Int32:
		return 4, false
	case reflect.Uint, reflect.Uint32:
		return 4, true
	case reflect.Int8:
		return 1, false
	case reflect.Uint8:
		return 1, true
	case reflect.Int16:
		return 2, false
	case reflect.Uint16:
		return 2, true
	case reflect.Int64:
		return 8, false
	case reflect.Uint64:
		return 8, true
	default:
		panic(fmt.Sprintf("configtable: byteWidth: unsupported kind %v", k))
	}
}

func checkFieldType(col column, t reflect.Type) error {
	switch col.colType {
	case "string":
		switch {
		case t.Kind() == reflect.String:
		case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		default:
			return fmt.Errorf("configtable: column %q (STRING) cannot decode into %v", col.name, t)
		}
	case "hex":
		switch {
		case t.Kind() == reflect.String:
		case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		case t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8:
		default:
			return fmt.Errorf("configtable: column %q (HEX) cannot decode into %v", col.name, t)
		}
	case "dec":
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return fmt.Errorf("configtable: column %q (DEC) cannot decode into %v", col.name, t)
		}
	}
	return nil
}

func decodeHexInto(col column, bit string, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(bit)
		return nil
	case reflect.Slice:
		raw, err := hex.DecodeString(bit)
		if err != nil {
			return fmt.Errorf("configtable: column %q: %v", col.name, err)
		}
		fv.SetBytes(raw)
		return nil
	case reflect.Array:
		raw, err := hex.DecodeString(bit)
		if err != nil {
			return fmt.Errorf("configtable: column %q: %v", col.name, err)
		}
		n := fv.Len()
		if len(raw) > n {
			raw = raw[len(raw)-n:]
		}
		// The wire format can drop leading zero bytes, so shorter hex
		// strings than the declared width are right-aligned.
		buf := make([]byte, n)
		copy(buf[n-len(raw):], raw)
		reflect.Copy(fv, reflect.ValueOf(buf))
		return nil
	}
	return fmt.Errorf("configtable: column %q: unsupported HEX target %v", col.name, fv.Type())
}

func decodeDecInto(col column, bit string, fv reflect.Value) error {
	width, unsigned := byteWidth(fv.Kind())
	if unsigned {
		v, err := strconv.ParseUint(bit, 10, width*8)
		if err != nil {
			return fmt.Errorf("configtable: column %q: %v", col.name, err)
		}
		fv.SetUint(v)
		return nil
	}
	v, err := strconv.ParseInt(bit, 10, width*8)
	if err != nil {
		return fmt.Errorf("configtable: column %q: %v", col.name, err)
	}
	fv.SetInt(v)
	return nil
}

// Decode decodes a line from the config table into a provided struct.
func (d *Decoder) Decode(s interface{}) error {
	if err := d.readHeader(); err != nil {
		return err
	}

	if reflect.TypeOf(s).Kind() != reflect.Ptr {
		return fmt.Errorf("configtable: cannot decode into non-struct-pointer")
	}

	v := reflect.Indirect(reflect.ValueOf(s))
	st := v.Type()
	if !v.IsValid() || st.Kind() != reflect.Struct {
		return fmt.Errorf("configtable: cannot decode into non-struct-pointer")
	}

	// create mappings from column indexes to field indexes.
	columnToField := make(map[int]reflect.Value)
	columnDelimiters := make(map[int]string)
	fields := v.NumField()
	for n := 0; n < fields; n++ {
		f := st.Field(n)
		// cheat and use PkgPath to check if this field is exported.
		if f.PkgPath != "" {
			continue
		}
		columnName := f.Name
		var delim string

		if tag := f.Tag.Get(structTag); tag != "" {
			parts := strings.SplitN(tag, ",", 2)
			columnName = parts[0]
			if len(parts) == 2 {
				delim = parts[1]
			}
		}

		columnID, ok := d.columnNames[columnName]
		if !ok {
			continue
		}

		if err := checkFieldType(d.columns[columnID], f.Type); err != nil {
			return err
		}

		columnToField[columnID] = v.Field(n)
		if delim != "" {
			columnDelimiters[columnID] = delim
		}
	}

	ln, err := d.line()
	if err != nil {
		return err
	}

	bits := strings.Split(ln, columnDelimiter)
	if len(bits) != len(d.columns) {
		d.err = fmt.Errorf("configtable: column count mismatch: saw %d columns, expected %d", len(bits), len(d.columns))
		return d.err
	}

	for n, bit := range bits {
		fv, ok := columnToField[n]
		if !ok {
			continue
		}
		col := d.columns[n]

		switch col.colType {
		case "string":
			switch fv.Kind() {
			case reflect.String:
				fv.SetString(bit)
			case reflect.Slice:
				delim := " "
				if dl, ok := columnDelimiters[n]; ok {
					delim = dl
				}
				parts := strings.Split(bit, delim)
				fv.Set(reflect.ValueOf(parts))
			}
		case "hex":
			if err := decodeHexInto(col, bit, fv); err != nil {
				d.err = err
				return d.err
			}
		case "dec":
			if err := decodeDecInto(col, bit, fv); err != nil {
				d.err = err
				return d.err
			}
		}
	}

	return nil
}

// NewDecoder creates a new Decoder from the provided io.Reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		s: bufio.NewScanner(r),
	}
}
