// Package identity derives and validates the identity string a client
// presents, either self-declared at registration or carried in the subject
// of its verified client certificate.
package identity

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

// ErrNoIdentity is returned when no usable CN can be found.
var ErrNoIdentity = errors.New("identity: no common name in certificate subject")

const commonName = "CN"

// Attribute is one parsed attribute/value pair of a certificate subject.
type Attribute struct {
	Type  string
	Value string
}

var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "STREET",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
}

func attributeType(oid asn1.ObjectIdentifier) string {
	s := oid.String()
	if name, ok := attributeNames[s]; ok {
		return name
	}
	return s
}

// SubjectAttributes flattens the subject of cert into attribute pairs,
// ordered the way a distinguished name string prints them: the last RDN of
// the encoded sequence comes first.
func SubjectAttributes(cert *x509.Certificate) []Attribute {
	if cert == nil {
		return nil
	}
	names := cert.Subject.Names
	attrs := make([]Attribute, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		atv := names[i]
		value, ok := atv.Value.(string)
		if !ok {
			value = fmt.Sprint(atv.Value)
		}
		attrs = append(attrs, Attribute{Type: attributeType(atv.Type), Value: value})
	}
	return attrs
}

// Extract returns the value of the first CN attribute.
func Extract(attrs []Attribute) (string, error) {
	for _, attr := range attrs {
		if strings.TrimSpace(attr.Type) != commonName {
			continue
		}
		value := strings.TrimSpace(attr.Value)
		if value == "" {
			return "", ErrNoIdentity
		}
		return value, nil
	}
	return "", ErrNoIdentity
}
