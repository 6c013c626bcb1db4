package model

import "time"

// DockerCmdState is the launch state of a container command.
type DockerCmdState string

const (
	DockerCmdPending   DockerCmdState = "pending"
	DockerCmdStarting  DockerCmdState = "starting"
	DockerCmdRunning   DockerCmdState = "running"
	DockerCmdScheduled DockerCmdState = "scheduled"
	DockerCmdError     DockerCmdState = "error"
)

// IsValid checks whether the state is a known value.
func (s DockerCmdState) IsValid() bool {
	switch s {
	case DockerCmdPending, DockerCmdStarting, DockerCmdRunning, DockerCmdScheduled, DockerCmdError:
		return true
	}
	return false
}

// DockerCmd is a container launch request scheduled onto a worker.
type DockerCmd struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	WorkerID   string            `json:"worker_id,omitempty"`
	Image      string            `json:"image"`
	PortMap    map[string]string `json:"port_map,omitempty"`
	Entrypoint string            `json:"entrypoint,omitempty"`
	Cmd        string            `json:"cmd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	State      DockerCmdState    `json:"state"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DockerCmdPublic is the outward view of a DockerCmd. Env is withheld
// because it routinely carries tokens.
type DockerCmdPublic struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	WorkerID   string            `json:"worker_id,omitempty"`
	Image      string            `json:"image"`
	PortMap    map[string]string `json:"port_map,omitempty"`
	Entrypoint string            `json:"entrypoint,omitempty"`
	Cmd        string            `json:"cmd,omitempty"`
	State      DockerCmdState    `json:"state"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

var (
	_ Record    = (*DockerCmd)(nil)
	_ Publisher = (*DockerCmd)(nil)
)

func (d *DockerCmd) Kind() Kind              { return KindDockerCmd }
func (d *DockerCmd) PrimaryKey() string      { return d.ID }
func (d *DockerCmd) SetPrimaryKey(id string) { d.ID = id }

func (d *DockerCmd) Touch(now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.State == "" {
		d.State = DockerCmdPending
	}
	d.UpdatedAt = now
}

func (d *DockerCmd) Field(name string) (string, bool) {
	switch name {
	case "id":
		return d.ID, true
	case "name":
		return d.Name, true
	case "worker_id":
		return d.WorkerID, d.WorkerID != ""
	case "image":
		return d.Image, true
	case "entrypoint":
		return d.Entrypoint, true
	case "cmd":
		return d.Cmd, true
	case "state":
		return string(d.State), true
	case "created_at":
		return formatTime(d.CreatedAt), true
	case "updated_at":
		return formatTime(d.UpdatedAt), true
	}
	return "", false
}

func (d *DockerCmd) Clone() Record {
	cp := *d
	cp.PortMap = cloneStrings(d.PortMap)
	cp.Env = cloneStrings(d.Env)
	return &cp
}

func (d *DockerCmd) Public() any {
	return &DockerCmdPublic{
		ID:         d.ID,
		Name:       d.Name,
		WorkerID:   d.WorkerID,
		Image:      d.Image,
		PortMap:    cloneStrings(d.PortMap),
		Entrypoint: d.Entrypoint,
		Cmd:        d.Cmd,
		State:      d.State,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (d *DockerCmd) Validate() error {
	var ve ValidationError
	if d.Image == "" {
		ve.add("image", "is required")
	}
	if d.State != "" && !d.State.IsValid() {
		ve.add("state", "invalid value %q", d.State)
	}
	return ve.orNil()
}
