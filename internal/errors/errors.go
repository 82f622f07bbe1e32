package errors

import "fmt"

type Kind string

const (
	KindNotFound                 Kind = "NOT_FOUND"
	KindUnknownParent            Kind = "UNKNOWN_PARENT"
	KindBranchExists             Kind = "BRANCH_EXISTS"
	KindCannotDeleteActive       Kind = "CANNOT_DELETE_ACTIVE"
	KindNotFastForward           Kind = "NOT_FAST_FORWARD"
	KindSchemaConflictUnresolved Kind = "SCHEMA_CONFLICT_UNRESOLVED"
	KindCorruptObject            Kind = "CORRUPT_OBJECT"
	KindAmbiguousRef             Kind = "AMBIGUOUS_REF"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches by kind so callers can use errors.Is with a bare kind
// sentinel, e.g. errors.Is(err, errors.NotFound("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func UnknownParent(hash string) *Error {
	return &Error{Kind: KindUnknownParent, Message: fmt.Sprintf("unknown parent commit %s", hash), Detail: hash}
}

func BranchExists(name string) *Error {
	return &Error{Kind: KindBranchExists, Message: fmt.Sprintf("branch %q already exists", name), Detail: name}
}

func CannotDeleteActive(name string) *Error {
	return &Error{Kind: KindCannotDeleteActive, Message: fmt.Sprintf("cannot delete the active branch %q", name), Detail: name}
}

func NotFastForward(name string) *Error {
	return &Error{Kind: KindNotFastForward, Message: fmt.Sprintf("branch %q moved: not a fast-forward", name), Detail: name}
}

func SchemaConflictUnresolved(table, column string) *Error {
	return &Error{
		Kind:    KindSchemaConflictUnresolved,
		Message: fmt.Sprintf("unresolved schema conflict on %s.%s", table, column),
	}
}

func AmbiguousRef(prefix string) *Error {
	return &Error{Kind: KindAmbiguousRef, Message: fmt.Sprintf("ref %q matches more than one commit", prefix), Detail: prefix}
}

func CorruptObject(hash string) *Error {
	return &Error{Kind: KindCorruptObject, Message: fmt.Sprintf("stored object does not hash to %s", hash), Detail: hash}
}
