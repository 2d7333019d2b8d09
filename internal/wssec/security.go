// Package wssec builds WS-Security UsernameToken headers (PasswordDigest profile)
// for requests sent to cameras.
package wssec

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// NonceSize is the length of the raw nonce carried in every header.
const NonceSize = 16

const (
	// CreatedLayout is the UTC timestamp layout used for wsu:Created.
	CreatedLayout = "2006-01-02T15:04:05.000Z"

	NamespaceSecext  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceUtility = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	nonceEncodingType  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Header returns a fresh <wsse:Security> block for the given credentials.
// Every call draws a new 16-byte nonce and timestamp; headers must never be reused.
func Header(username, password string) string {
	nonce := make([]byte, NonceSize)
	if _, err := randRead(nonce); err != nil {
		panic(fmt.Sprintf("wssec: reading nonce: %v", err))
	}
	return header(username, password, nonce, time.Now())
}

var randRead = rand.Read

// Digest computes Base64(SHA1(nonce ++ created ++ password)).
func Digest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func header(username, password string, nonce []byte, now time.Time) string {
	created := now.UTC().Format(CreatedLayout)
	digest := Digest(nonce, created, password)

	return fmt.Sprintf(`<wsse:Security xmlns:wsse="%s" xmlns:wsu="%s">`+
		`<wsse:UsernameToken>`+
		`<wsse:Username>%s</wsse:Username>`+
		`<wsse:Password Type="%s">%s</wsse:Password>`+
		`<wsse:Nonce EncodingType="%s">%s</wsse:Nonce>`+
		`<wsu:Created>%s</wsu:Created>`+
		`</wsse:UsernameToken>`+
		`</wsse:Security>`,
		NamespaceSecext, NamespaceUtility,
		escape(username),
		passwordDigestType, digest,
		nonceEncodingType, base64.StdEncoding.EncodeToString(nonce),
		created)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
