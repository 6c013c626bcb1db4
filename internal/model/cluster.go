package model

import "time"

// Cluster groups workers. Deleting a cluster removes its workers first.
type Cluster struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Lifecycle   Lifecycle  `json:"lifecycle"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

var _ SoftDeletable = (*Cluster)(nil)

func (c *Cluster) Kind() Kind              { return KindCluster }
func (c *Cluster) PrimaryKey() string      { return c.ID }
func (c *Cluster) SetPrimaryKey(id string) { c.ID = id }

func (c *Cluster) Touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Lifecycle == "" {
		c.Lifecycle = LifecycleActive
	}
	c.UpdatedAt = now
}

func (c *Cluster) Field(name string) (string, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "name":
		return c.Name, true
	case "description":
		return c.Description, true
	case "lifecycle":
		return string(c.Lifecycle), true
	case "created_at":
		return formatTime(c.CreatedAt), true
	case "updated_at":
		return formatTime(c.UpdatedAt), true
	}
	return "", false
}

func (c *Cluster) Clone() Record {
	cp := *c
	cp.DeletedAt = cloneTime(c.DeletedAt)
	return &cp
}

func (c *Cluster) MarkDeleting(at time.Time) {
	c.Lifecycle = LifecycleDeleting
	c.DeletedAt = &at
}

func (c *Cluster) IsDeleting() bool {
	return c.Lifecycle == LifecycleDeleting || c.DeletedAt != nil
}

func (c *Cluster) Validate() error {
	var ve ValidationError
	requireName(&ve, c.Name)
	validateLifecycle(&ve, c.Lifecycle)
	return ve.orNil()
}
