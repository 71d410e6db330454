package todo

import "time"

type CreateListRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type RenameListRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type CreateTodoRequest struct {
	Content string `json:"content" validate:"required,min=1,max=500"`
	ListID  string `json:"listId" validate:"required,uuid"`
}

type UpdateTodoRequest struct {
	Content   *string `json:"content,omitempty" validate:"omitempty,min=1,max=500"`
	Completed *bool   `json:"completed,omitempty"`
}

// ListResponse mirrors the todo list shape the web client reads
type ListResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Balance   *int64    `json:"balance,omitempty"`
}

type TodoResponse struct {
	ID        string    `json:"id"`
	ListID    string    `json:"listId"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	Pomodoros int       `json:"pomodoros"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Balance   *int64    `json:"balance,omitempty"`
}

func ListResponseFromEntity(l *List) ListResponse {
	return ListResponse{
		ID:        l.ID.String(),
		Name:      l.Name,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func TodoResponseFromEntity(t *Todo) TodoResponse {
	return TodoResponse{
		ID:        t.ID.String(),
		ListID:    t.ListID.String(),
		Content:   t.Content,
		Completed: t.Completed,
		Pomodoros: t.Pomodoros,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
