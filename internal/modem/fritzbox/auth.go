package fritzbox

import (
	"crypto/md5" //nolint:gosec // required by legacy firmware
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/encoding/unicode"
)

const zeroSID = "0000000000000000"

type sessionInfo struct {
	XMLName   xml.Name `xml:"SessionInfo"`
	SID       string   `xml:"SID"`
	Challenge string   `xml:"Challenge"`
	BlockTime int      `xml:"BlockTime"`
}

func parseSessionInfo(body []byte) (sessionInfo, error) {
	var si sessionInfo
	if err := xml.Unmarshal(body, &si); err != nil {
		return si, err
	}
	si.SID = strings.TrimSpace(si.SID)
	si.Challenge = strings.TrimSpace(si.Challenge)
	return si, nil
}

func (si sessionInfo) valid() bool {
	return si.SID != "" && si.SID != zeroSID
}

// challengeResponse answers a login challenge. Challenges starting with
// "2$" use PBKDF2, everything else the MD5 scheme of older firmware.
func challengeResponse(challenge, password string) (string, error) {
	if strings.HasPrefix(challenge, "2$") {
		return pbkdf2Response(challenge, password)
	}
	return md5Response(challenge, password)
}

// pbkdf2Response handles challenges of the form 2$<iter1>$<salt1>$<iter2>$<salt2>.
func pbkdf2Response(challenge, password string) (string, error) {
	parts := strings.Split(challenge, "$")
	if len(parts) != 5 {
		return "", fmt.Errorf("malformed challenge %q", challenge)
	}
	iter1, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("iterations: %w", err)
	}
	salt1, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	iter2, err := strconv.Atoi(parts[3])
	if err != nil {
		return "", fmt.Errorf("iterations: %w", err)
	}
	salt2, err := hex.DecodeString(parts[4])
	if err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	hash1 := pbkdf2.Key([]byte(password), salt1, iter1, sha256.Size, sha256.New)
	hash2 := pbkdf2.Key(hash1, salt2, iter2, sha256.Size, sha256.New)
	return parts[4] + "$" + hex.EncodeToString(hash2), nil
}

// md5Response is <challenge>-md5(utf16le("<challenge>-<password>")). Runes
// above U+00FF are replaced with '.' like the device does.
func md5Response(challenge, password string) (string, error) {
	var b strings.Builder
	for _, r := range password {
		if r > 0xff {
			r = '.'
		}
		b.WriteRune(r)
	}

	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	encoded, err := enc.String(challenge + "-" + b.String())
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(encoded)) //nolint:gosec // required by legacy firmware
	return challenge + "-" + hex.EncodeToString(sum[:]), nil
}
