package todo

import "errors"

var (
	ErrListNotFound = errors.New("todo list not found")
	ErrTodoNotFound = errors.New("todo not found")
	ErrEmptyPatch   = errors.New("nothing to update")
	ErrInternal     = errors.New("internal error")
)
