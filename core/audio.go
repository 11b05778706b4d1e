package core

// AudioClip is one synthesized assistant reply. Bytes are opaque everywhere
// except the transport that actually plays them; MIME is fixed per clip.
type AudioClip struct {
	Bytes []byte
	MIME  string
}
