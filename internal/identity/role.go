package identity

// Role is a named authorization role. Its key is derived from the normalized
// name, so name uniqueness is structural: a second create of the same name
// collides on the key.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewRole builds a role whose id is the derived role key.
func NewRole(name string) (*Role, error) {
	key, err := RoleKey(name)
	if err != nil {
		return nil, err
	}
	return &Role{ID: key, Name: name}, nil
}
