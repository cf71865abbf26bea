// Package fits reads and edits the primary header of FITS files. Only the
// header is touched; data units are copied through untouched.
package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	blockSize   = 2880
	cardSize    = 80
	cardsPerBlk = blockSize / cardSize
)

// ErrMissingCard is returned by typed accessors when a keyword is absent.
var ErrMissingCard = errors.New("header card not found")

// Card is a single 80 column header record.
type Card struct {
	Key     string
	Value   string // raw value field; strings are unquoted
	Quoted  bool
	Comment string
	raw     string
}

// Header is the ordered list of cards of the primary HDU, without END.
type Header struct {
	Cards []Card
	// size of the header on disk in bytes, a multiple of blockSize
	size int64
}

// ReadHeaderFile reads the primary header of the file at path.
func ReadHeaderFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ReadHeader consumes header blocks from r up to and including the block
// holding END.
func ReadHeader(r io.Reader) (*Header, error) {
	h := &Header{}
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errors.New("truncated header: END card not found")
			}
			return nil, err
		}
		first := h.size == 0
		h.size += blockSize
		if first && !bytes.HasPrefix(block, []byte("SIMPLE  =")) {
			return nil, errors.New("not a FITS file: missing SIMPLE card")
		}
		for i := 0; i < cardsPerBlk; i++ {
			raw := string(block[i*cardSize : (i+1)*cardSize])
			key := strings.TrimSpace(raw[:8])
			if key == "END" {
				return h, nil
			}
			h.Cards = append(h.Cards, parseCard(raw))
		}
	}
}

func parseCard(raw string) Card {
	c := Card{Key: strings.TrimSpace(raw[:8]), raw: raw}
	if raw[8:10] != "= " {
		c.Comment = strings.TrimSpace(raw[8:])
		return c
	}
	field := strings.TrimSpace(raw[10:])
	if strings.HasPrefix(field, "'") {
		c.Quoted = true
		var b strings.Builder
		i := 1
		for i < len(field) {
			if field[i] == '\'' {
				if i+1 < len(field) && field[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			b.WriteByte(field[i])
			i++
		}
		c.Value = strings.TrimRight(b.String(), " ")
		rest := strings.TrimSpace(field[i:])
		c.Comment = strings.TrimSpace(strings.TrimPrefix(rest, "/"))
		return c
	}
	if idx := strings.Index(field, "/"); idx >= 0 {
		c.Comment = strings.TrimSpace(field[idx+1:])
		field = field[:idx]
	}
	c.Value = strings.TrimSpace(field)
	return c
}

// Get returns the last card with the given keyword.
func (h *Header) Get(key string) (Card, bool) {
	key = strings.ToUpper(key)
	for i := len(h.Cards) - 1; i >= 0; i-- {
		if h.Cards[i].Key == key {
			return h.Cards[i], true
		}
	}
	return Card{}, false
}

// Has reports whether the keyword is present.
func (h *Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// String returns a card value as text.
func (h *Header) String(key string) (string, error) {
	c, ok := h.Get(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrMissingCard)
	}
	return c.Value, nil
}

// Float returns a numeric card value. Fortran "D" exponents are accepted.
func (h *Header) Float(key string) (float64, error) {
	c, ok := h.Get(key)
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrMissingCard)
	}
	v := strings.NewReplacer("D", "E", "d", "e").Replace(c.Value)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// Int returns an integer card value.
func (h *Header) Int(key string) (int, error) {
	f, err := h.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Size is the on-disk size of the header in bytes.
func (h *Header) Size() int64 { return h.size }

// Set replaces the value of an existing card or appends a new string card.
func (h *Header) Set(key, value string) {
	card := NewStringCard(key, value, "")
	key = card.Key
	for i := len(h.Cards) - 1; i >= 0; i-- {
		if h.Cards[i].Key == key {
			h.Cards[i] = card
			return
		}
	}
	h.Cards = append(h.Cards, card)
}

// Bytes encodes the header, END card and padding.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	for _, c := range h.Cards {
		buf.WriteString(c.Raw())
	}
	buf.WriteString(padCard("END"))
	if rem := buf.Len() % blockSize; rem != 0 {
		buf.Write(bytes.Repeat([]byte{' '}, blockSize-rem))
	}
	return buf.Bytes()
}

// Raw is the 80 column representation of the card.
func (c Card) Raw() string {
	if c.raw != "" {
		return c.raw
	}
	var line string
	if c.Quoted {
		quoted := "'" + strings.ReplaceAll(c.Value, "'", "''")
		for len(quoted) < 9 {
			quoted += " "
		}
		line = fmt.Sprintf("%-8s= %-20s", c.Key, quoted+"'")
	} else {
		line = fmt.Sprintf("%-8s= %20s", c.Key, c.Value)
	}
	if c.Comment != "" {
		line += " / " + c.Comment
	}
	return padCard(line)
}

// CheckKeyword reports whether key, upper-cased, is a legal header keyword:
// one to eight characters from A-Z, 0-9, '_' and '-'.
func CheckKeyword(key string) error {
	key = strings.ToUpper(key)
	if key == "" || len(key) > 8 {
		return fmt.Errorf("keyword %q must be 1 to 8 characters", key)
	}
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("keyword %q contains %q", key, r)
		}
	}
	return nil
}

// NewStringCard builds a quoted string card.
func NewStringCard(key, value, comment string) Card {
	c := Card{Key: strings.ToUpper(key), Value: value, Quoted: true, Comment: comment}
	c.raw = c.Raw()
	return c
}

// NewValueCard builds a card holding a literal (number or logical) value.
func NewValueCard(key, value, comment string) Card {
	c := Card{Key: strings.ToUpper(key), Value: value, Comment: comment}
	c.raw = c.Raw()
	return c
}

func padCard(s string) string {
	if len(s) > cardSize {
		return s[:cardSize]
	}
	return s + strings.Repeat(" ", cardSize-len(s))
}
