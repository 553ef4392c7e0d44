package http

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// DigestAuth contains the parameters needed for digest authentication
type DigestAuth struct {
	Username string
	Password string
	Realm    string
	Nonce    string
	URI      string
	Qop      string
	Nc       string
	Cnonce   string
	Opaque   string
	Method   string
}

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// ParseChallenge parses a WWW-Authenticate header value. Quoted parameter
// values may contain commas.
func ParseChallenge(header string) Challenge {
	header = strings.TrimSpace(header)
	scheme, rest, _ := strings.Cut(header, " ")
	return Challenge{
		Scheme: strings.ToLower(scheme),
		Params: parseAuthParams(rest),
	}
}

func parseAuthParams(s string) map[string]string {
	result := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " ")

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value, s = s[1:], ""
			} else {
				value, s = s[1:end+1], s[end+2:]
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				value, s = s, ""
			} else {
				value, s = s[:end], s[end+1:]
			}
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}

// ComputeDigestResponse calculates the digest response hash
func (d *DigestAuth) ComputeDigestResponse() string {
	// HA1 = MD5(username:realm:password)
	ha1 := md5Hash(fmt.Sprintf("%s:%s:%s", d.Username, d.Realm, d.Password))

	// HA2 = MD5(method:uri)
	ha2 := md5Hash(fmt.Sprintf("%s:%s", d.Method, d.URI))

	if d.Qop == "auth" || d.Qop == "auth-int" {
		return md5Hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, d.Nonce, d.Nc, d.Cnonce, d.Qop, ha2))
	}
	return md5Hash(fmt.Sprintf("%s:%s:%s", ha1, d.Nonce, ha2))
}

// BuildAuthorizationHeader creates the Authorization header value
func (d *DigestAuth) BuildAuthorizationHeader() string {
	response := d.ComputeDigestResponse()

	parts := []string{
		fmt.Sprintf(`username="%s"`, d.Username),
		fmt.Sprintf(`realm="%s"`, d.Realm),
		fmt.Sprintf(`nonce="%s"`, d.Nonce),
		fmt.Sprintf(`uri="%s"`, d.URI),
		fmt.Sprintf(`response="%s"`, response),
	}

	if d.Qop != "" {
		parts = append(parts, fmt.Sprintf(`qop=%s`, d.Qop))
		parts = append(parts, fmt.Sprintf(`nc=%s`, d.Nc))
		parts = append(parts, fmt.Sprintf(`cnonce="%s"`, d.Cnonce))
	}

	if d.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, d.Opaque))
	}

	return "Digest " + strings.Join(parts, ", ")
}

// authorizationFor answers a challenge with creds. It returns false for
// schemes other than Basic and Digest.
func authorizationFor(ch Challenge, creds Credentials, method, requestURI string) (string, bool, error) {
	switch ch.Scheme {
	case "basic":
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		return "Basic " + token, true, nil
	case "digest":
		auth := &DigestAuth{
			Username: creds.Username,
			Password: creds.Password,
			Realm:    ch.Params["realm"],
			Nonce:    ch.Params["nonce"],
			URI:      requestURI,
			Opaque:   ch.Params["opaque"],
			Method:   method,
		}
		if qop := ch.Params["qop"]; qop != "" {
			// only qop=auth is computed; auth-int would need the body hash
			if !containsToken(qop, "auth") {
				return "", false, nil
			}
			cnonce, err := GenerateCnonce()
			if err != nil {
				return "", false, err
			}
			auth.Qop = "auth"
			auth.Nc = "00000001"
			auth.Cnonce = cnonce
		}
		return auth.BuildAuthorizationHeader(), true, nil
	default:
		return "", false, nil
	}
}

func containsToken(list, token string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return true
		}
	}
	return false
}

// GenerateCnonce generates a random client nonce
func GenerateCnonce() (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func md5Hash(s string) string {
	h := md5.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
