package multipart

import (
	"bytes"
	"encoding/base64"
	"io"
)

// bdecode base64-decodes raw, tolerating at most one trailing newline left
// over from the encoder (std base64 encoders commonly append one; Go's
// decoder is already whitespace-tolerant on input, but some encoders used
// by older peers append a literal "\n" to the *decoded* value itself when
// the original plaintext didn't end in one — mirror the original client's
// bdecode() compensation for that rather than silently keeping the extra
// byte).
func bdecode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	decoded, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(raw, []byte("\n")) && bytes.HasSuffix(decoded, []byte("\n")) {
		decoded = decoded[:len(decoded)-1]
	}
	return decoded, nil
}
