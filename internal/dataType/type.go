package dataType

const LanPresenceVersion = "1.0.0"

// IdentityRecord is one registered identity and its last published location.
type IdentityRecord struct {
	Identity string `cbor:"1,keyasint" json:"identity"`
	LastSeen int64  `cbor:"2,keyasint" json:"last_seen"`
	IP       string `cbor:"3,keyasint" json:"ip"`
	Port     int32  `cbor:"4,keyasint" json:"port"`
}

// Presence holds the fields a presence update is allowed to change.
type Presence struct {
	LastSeen int64
	IP       string
	Port     int32
}

// WithPresence returns a copy of r carrying p. The identity is never touched.
func (r IdentityRecord) WithPresence(p Presence) IdentityRecord {
	r.LastSeen = p.LastSeen
	r.IP = p.IP
	r.Port = p.Port
	return r
}

// AccessEntry is what the access log knows about one API request.
type AccessEntry struct {
	RequestID string
	RemoteIP  string
	Method    string
	Uri       string
	Status    int
	UserAgent string
	Identity  string
}
