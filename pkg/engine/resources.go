package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// WorkerRef is the project's view of its worker handle.
type WorkerRef interface {
	// Name is the logical run name the handle was created under.
	Name() string
	// Done is closed once the worker process has exited.
	Done() <-chan struct{}
}

// Connection holds the connection attributes a successful handshake binds
// onto a project or database resource.
type Connection struct {
	DatabaseName  string
	RoleName      string
	Host          string
	Port          int
	Password      string
	ConnectionURI string
}

// ProjectConnection is the project-level part of a successful handshake.
type ProjectConnection struct {
	Connection
	ProjectID             string
	BranchID              string
	EndpointID            string
	EndpointType          string
	RegionID              string
	SuspendTimeoutSeconds *int
}

// ProjectResource is the singleton resource for one logical Neon project.
// All access goes through its methods; it is safe for concurrent use.
type ProjectResource struct {
	name string

	mu         sync.RWMutex
	directives Directives
	databases  []*DatabaseResource
	worker     WorkerRef
	state      ProjectConnection
	status     ResourceState
}

// NewProjectResource creates a project resource in the waiting state.
func NewProjectResource(name string, directives Directives) (*ProjectResource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewConfigurationError("project resource name is required", nil)
	}
	return &ProjectResource{
		name:       name,
		directives: directives.WithDefaults(),
		status:     StateWaiting,
	}, nil
}

// Name returns the resource name.
func (p *ProjectResource) Name() string { return p.name }

// Directives returns a copy of the current directives.
func (p *ProjectResource) Directives() Directives {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.directives.WithDefaults()
}

// SetDirectives replaces the directives. A worker that is already bound
// picks them up the next time its contract is refreshed.
func (p *ProjectResource) SetDirectives(d Directives) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directives = d.WithDefaults()
}

// AddDatabase declares a database against the project. Names are unique
// ignoring case.
func (p *ProjectResource) AddDatabase(decl DatabaseDeclaration) (*DatabaseResource, error) {
	if strings.TrimSpace(decl.Name) == "" {
		return nil, NewConfigurationError("database resource name is required", nil).WithResource(p.name)
	}
	if strings.EqualFold(decl.Name, p.name) {
		return nil, NewConfigurationError(
			fmt.Sprintf("database resource %q has the same name as its project", decl.Name), nil).WithResource(p.name)
	}
	decl = decl.WithDefaults()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, db := range p.databases {
		if strings.EqualFold(db.name, decl.Name) {
			return nil, NewConfigurationError(
				fmt.Sprintf("database resource %q is already declared", decl.Name), nil).WithResource(p.name)
		}
	}
	db := &DatabaseResource{
		name:         decl.Name,
		databaseName: decl.DatabaseName,
		roleName:     decl.RoleName,
		parent:       p.name,
	}
	p.databases = append(p.databases, db)
	return db, nil
}

// Databases returns the declared databases in declaration order.
func (p *ProjectResource) Databases() []*DatabaseResource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*DatabaseResource(nil), p.databases...)
}

// Worker returns the bound worker handle, or nil.
func (p *ProjectResource) Worker() WorkerRef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.worker
}

// BindWorker sets the project's worker handle. Binding a second, different
// handle is a configuration error. Only the launcher calls this.
func (p *ProjectResource) BindWorker(ref WorkerRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker != nil && p.worker != ref {
		return NewConfigurationError(
			fmt.Sprintf("project already owns worker %q", p.worker.Name()), nil).WithResource(p.name)
	}
	p.worker = ref
	return nil
}

// State returns the lifecycle state.
func (p *ProjectResource) State() ResourceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Transition moves the project to next and returns the previous state.
func (p *ProjectResource) Transition(next ResourceState) (ResourceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.status
	if prev == next {
		return prev, nil
	}
	if !prev.CanTransitionTo(next) {
		return prev, fmt.Errorf("project %s: invalid state transition %s -> %s", p.name, prev, next)
	}
	p.status = next
	return prev, nil
}

// Bind stores the project-level handshake result.
func (p *ProjectResource) Bind(conn ProjectConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = conn
}

// Connection returns the bound project connection.
func (p *ProjectResource) Connection() ProjectConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Healthy reports whether a connection URI has been bound.
func (p *ProjectResource) Healthy() bool {
	return p.Connection().ConnectionURI != ""
}

// ConnectionString renders the bound connection as a key/value string.
func (p *ProjectResource) ConnectionString() string {
	return p.Connection().Connection.String()
}

// DatabaseResource is one logical database declared against a project.
type DatabaseResource struct {
	name         string
	databaseName string
	roleName     string
	parent       string

	mu   sync.RWMutex
	conn Connection
}

// Name returns the resource name.
func (d *DatabaseResource) Name() string { return d.name }

// DatabaseName returns the declared database name.
func (d *DatabaseResource) DatabaseName() string { return d.databaseName }

// RoleName returns the declared role name.
func (d *DatabaseResource) RoleName() string { return d.roleName }

// Project returns the owning project's name.
func (d *DatabaseResource) Project() string { return d.parent }

// Bind stores the connection attributes from a handshake.
func (d *DatabaseResource) Bind(conn Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

// Connection returns the bound connection attributes.
func (d *DatabaseResource) Connection() Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// Healthy reports whether a connection URI has been bound.
func (d *DatabaseResource) Healthy() bool {
	return d.Connection().ConnectionURI != ""
}

// String renders the connection as Host=..;Port=..;Username=..;Password=..;Database=..
func (c Connection) String() string {
	parts := make([]string, 0, 5)
	if c.Host != "" {
		parts = append(parts, "Host="+c.Host)
	}
	if c.Port != 0 {
		parts = append(parts, "Port="+strconv.Itoa(c.Port))
	}
	if c.RoleName != "" {
		parts = append(parts, "Username="+c.RoleName)
	}
	if c.Password != "" {
		parts = append(parts, "Password="+c.Password)
	}
	if c.DatabaseName != "" {
		parts = append(parts, "Database="+c.DatabaseName)
	}
	return strings.Join(parts, ";")
}
