package notifier

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// mimeEncode は非ASCII文字を含むヘッダ値をRFC 2047のB方式でエンコードする。
// ASCIIのみの場合はそのまま返す。
func mimeEncode(s string) string {
	ascii := true
	for _, r := range s {
		if r > 127 {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	return fmt.Sprintf("=?UTF-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(s)))
}

// base64Wrap は本文をbase64化し、76桁でCRLF折り返しする。
func base64Wrap(body string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(body))

	const lineLen = 76
	var b strings.Builder
	for len(encoded) > lineLen {
		b.WriteString(encoded[:lineLen])
		b.WriteString("\r\n")
		encoded = encoded[lineLen:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.String()
}
