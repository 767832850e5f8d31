package project

import "strings"

// SetDisplayName returns an UpdateSetter that sets the project's display name.
func SetDisplayName(name string) UpdateSetter {
	return func(p *Project) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrInvalidDisplayName
		}
		p.DisplayName = name
		return nil
	}
}
