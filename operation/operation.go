package operation

import (
	"errors"
	"io"

	"github.com/hairizuan-noorazman/spahost/project"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidKind      = errors.New("invalid operation kind")
)

// Kind names an operation variant.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindDelete    Kind = "delete"
	KindSetStatus Kind = "set_status"
	KindRename    Kind = "rename"
	KindRollback  Kind = "rollback"
	KindPrune     Kind = "prune"
	KindResolve   Kind = "resolve"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindUpload, KindDelete, KindSetStatus, KindRename, KindRollback, KindPrune, KindResolve:
		return true
	}
	return false
}

// Mutates reports whether operations of this kind change project state.
func (k Kind) Mutates() bool {
	return k.IsValid() && k != KindResolve
}

// ParseKind converts a transport string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// Operation is one typed request against the host. The set of
// implementations is closed.
type Operation interface {
	Kind() Kind
	Target() string
	operation()
}

// Upload publishes an archive as the new version of Slug.
type Upload struct {
	Slug        string
	DisplayName string
	Archive     io.Reader
	CreateOnly  bool
}

// Delete removes Slug with all its versions.
type Delete struct {
	Slug string
}

// SetStatus switches Slug on or off.
type SetStatus struct {
	Slug   string
	Status project.Status
}

// Rename changes the display name of Slug.
type Rename struct {
	Slug        string
	DisplayName string
}

// Rollback re-promotes a retained Version of Slug.
type Rollback struct {
	Slug    string
	Version string
}

// Prune keeps the Keep most recent prior versions of Slug.
type Prune struct {
	Slug string
	Keep int
}

// Resolve looks up the active version of Slug.
type Resolve struct {
	Slug string
}

func (Upload) Kind() Kind    { return KindUpload }
func (Delete) Kind() Kind    { return KindDelete }
func (SetStatus) Kind() Kind { return KindSetStatus }
func (Rename) Kind() Kind    { return KindRename }
func (Rollback) Kind() Kind  { return KindRollback }
func (Prune) Kind() Kind     { return KindPrune }
func (Resolve) Kind() Kind   { return KindResolve }

func (o Upload) Target() string    { return o.Slug }
func (o Delete) Target() string    { return o.Slug }
func (o SetStatus) Target() string { return o.Slug }
func (o Rename) Target() string    { return o.Slug }
func (o Rollback) Target() string  { return o.Slug }
func (o Prune) Target() string     { return o.Slug }
func (o Resolve) Target() string   { return o.Slug }

func (Upload) operation()    {}
func (Delete) operation()    {}
func (SetStatus) operation() {}
func (Rename) operation()    {}
func (Rollback) operation()  {}
func (Prune) operation()     {}
func (Resolve) operation()   {}
