package password

// Scheme is one hashing algorithm a [Chain] can dispatch to.
type Scheme interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	Handles(encodedHash string) bool
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Chain hashes with a primary scheme and verifies with whichever scheme recognizes
// the stored hash.
type Chain struct {
	primary Scheme
	legacy  []Scheme
}

// NewChain returns a [Chain]. primary must not be nil.
func NewChain(primary Scheme, legacy ...Scheme) *Chain {
	return &Chain{primary: primary, legacy: legacy}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.primary.Hash(password)
}

func (c *Chain) Verify(password, encodedHash string) (bool, error) {
	s := c.schemeFor(encodedHash)
	if s == nil {
		return false, ErrUnsupportedHash
	}
	return s.Verify(password, encodedHash)
}

// NeedsUpgrade is true for any hash not produced by the primary scheme, and for
// primary hashes with outdated parameters.
func (c *Chain) NeedsUpgrade(encodedHash string) (bool, error) {
	if c.primary.Handles(encodedHash) {
		return c.primary.NeedsUpgrade(encodedHash)
	}
	if c.schemeFor(encodedHash) == nil {
		return false, ErrUnsupportedHash
	}
	return true, nil
}

func (c *Chain) schemeFor(encodedHash string) Scheme {
	if c.primary.Handles(encodedHash) {
		return c.primary
	}
	for _, s := range c.legacy {
		if s.Handles(encodedHash) {
			return s
		}
	}
	return nil
}
