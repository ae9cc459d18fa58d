package importer

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rc4"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pdfPasswordPad is the padding string of the standard security handler.
var pdfPasswordPad = []byte{
	0x28, 0xbf, 0x4e, 0x5e, 0x4e, 0x75, 0x8a, 0x41, 0x64, 0x00, 0x4e, 0x56, 0xff, 0xfa, 0x01, 0x08,
	0x2e, 0x2e, 0x00, 0xb6, 0xd0, 0x68, 0x3e, 0x80, 0x2f, 0x0c, 0xa9, 0xfe, 0x64, 0x53, 0x69, 0x7a,
}

var pdfFileID = []byte("0123456789abcdef")

// buildPDF lays out objects numbered from 1 with a matching xref table.
func buildPDF(objects []string, trailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, trailer, xref)
	return buf.Bytes()
}

// rc4PDF builds an empty document protected with 40-bit RC4 (V=1, R=2)
// and the user password userPassword.
func rc4PDF(userPassword string) []byte {
	owner := bytes.Repeat([]byte{0x5a}, 32)
	p := uint32(0xfffffffc)

	h := md5.New()
	h.Write(append([]byte(userPassword), pdfPasswordPad...)[:32])
	h.Write(owner)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(pdfFileID)
	key := h.Sum(nil)[:5]

	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	user := make([]byte, 32)
	c.XORKeyStream(user, pdfPasswordPad)

	encrypt := fmt.Sprintf("<< /Filter /Standard /V 1 /R 2 /O <%X> /U <%X> /P -4 >>", owner, user)
	return buildPDF([]string{
		encrypt,
		"<< /Type /Catalog /Pages 3 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, fmt.Sprintf("/Root 2 0 R /Encrypt 1 0 R /ID [<%X> <%X>]", pdfFileID, pdfFileID))
}

func TestExtractLines_EncryptedNeedsPassword(t *testing.T) {
	data := rc4PDF("secret")

	_, err := ExtractLines(data, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = ExtractLines(data, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestExtractLines_EncryptedOpensWithPassword(t *testing.T) {
	// The document has no pages, so a correct password gets past decryption
	// and stops at the page count.
	_, err := ExtractLines(rc4PDF("secret"), "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordRequired)
	assert.NotErrorIs(t, err, ErrIncorrectPassword)
	assert.NotErrorIs(t, err, ErrUnsupportedEncryption)
}

func TestExtractLines_AES256IsUnsupported(t *testing.T) {
	blank := bytes.Repeat([]byte{0}, 48)
	encrypt := fmt.Sprintf("<< /Filter /Standard /V 5 /R 6 /Length 256 /O <%X> /U <%X> /P -4 >>", blank, blank)
	data := buildPDF([]string{
		encrypt,
		"<< /Type /Catalog /Pages 3 0 R >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	}, fmt.Sprintf("/Root 2 0 R /Encrypt 1 0 R /ID [<%X> <%X>]", pdfFileID, pdfFileID))

	_, err := ExtractLines(data, "")
	assert.ErrorIs(t, err, ErrUnsupportedEncryption)
	assert.NotErrorIs(t, err, ErrPasswordRequired)

	_, err = ExtractLines(data, "secret")
	assert.ErrorIs(t, err, ErrUnsupportedEncryption)
}

func TestPDFDecoder_EncryptedThroughParser(t *testing.T) {
	data := rc4PDF("secret")
	f := File{Name: "statement.pdf", Size: int64(len(data)), Body: bytes.NewReader(data)}

	_, err := NewParser().Parse(context.Background(), f)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}
