package entity

import "time"

// Project is a working directory agents operate in.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns an independent copy.
func (p *Project) Clone() *Project {
	c := *p
	return &c
}
