package walker

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"coderag/internal/types"
)

// minConfidence is the lowest chardet confidence accepted before falling
// back to Latin-1.
const minConfidence = 30

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read loads and decodes a discovered file.
func Read(fi FileInfo) (types.SourceFile, error) {
	raw, err := os.ReadFile(fi.Path)
	if err != nil {
		return types.SourceFile{}, &types.FileError{Path: fi.RelPath, Op: "read", Err: fmt.Errorf("%w: %v", types.ErrSkippedFile, err)}
	}

	text, enc, err := Decode(raw)
	if err != nil {
		return types.SourceFile{}, &types.FileError{Path: fi.RelPath, Op: "decode", Err: err}
	}

	lang := fi.Language
	if lang == "" {
		lang = LanguageOf(fi.Path)
	}
	return types.SourceFile{
		Path:     fi.RelPath,
		AbsPath:  fi.Path,
		Encoding: enc,
		Language: lang,
		Size:     fi.Size,
		ModTime:  fi.ModTime,
		Text:     text,
	}, nil
}

// Decode converts raw bytes to text and names the encoding used. UTF-8 is
// tried first, then statistical detection, then Latin-1, which maps every
// byte and so always succeeds on non-binary input.
func Decode(raw []byte) (string, string, error) {
	if hasUTF16BOM(raw) {
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err == nil && utf8.Valid(out) {
			return string(out), "utf-16", nil
		}
	}

	if bytes.IndexByte(raw, 0) >= 0 {
		return "", "", fmt.Errorf("%w: binary content", types.ErrSkippedFile)
	}

	if b := bytes.TrimPrefix(raw, utf8BOM); utf8.Valid(b) {
		return string(b), "utf-8", nil
	}

	if text, name, ok := detect(raw); ok {
		return text, name, nil
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: undecodable text: %v", types.ErrSkippedFile, err)
	}
	return string(out), "latin-1", nil
}

func detect(raw []byte) (string, string, bool) {
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil || res.Confidence < minConfidence {
		return "", "", false
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil || enc == encoding.Nop {
		return "", "", false
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil || !utf8.Valid(out) || bytes.ContainsRune(out, utf8.RuneError) {
		return "", "", false
	}
	return string(out), res.Charset, true
}

func hasUTF16BOM(b []byte) bool {
	return len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF))
}
