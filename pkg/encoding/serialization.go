package encoding

// Serializable is implemented by values that know their own wire encoding.
// Transports accept a Serializable so they never depend on a concrete codec.
type Serializable interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}
