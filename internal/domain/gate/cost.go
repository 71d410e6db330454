package gate

import "fmt"

// Action is a paid operation
type Action string

const (
	ActionCreateList       Action = "create_list"
	ActionCreateTodo       Action = "create_todo"
	ActionCompletePomodoro Action = "complete_pomodoro"
	ActionGenerateImage    Action = "generate_image"
)

// Image generation is priced per inference step.
const (
	DefaultImageSteps = 4
	MinImageSteps     = 1
	MaxImageSteps     = 8
	CreditsPerStep    = 20
)

var flatCosts = map[Action]int64{
	ActionCreateList:       10,
	ActionCreateTodo:       5,
	ActionCompletePomodoro: 20,
}

var descriptions = map[Action]string{
	ActionCreateList:       "Create todo list",
	ActionCreateTodo:       "Create todo",
	ActionCompletePomodoro: "Complete pomodoro session",
	ActionGenerateImage:    "Generate image",
}

// Params carries the inputs some actions are priced on
type Params struct {
	Steps int
}

// Actions lists every priced action
func Actions() []Action {
	return []Action{ActionCreateList, ActionCreateTodo, ActionCompletePomodoro, ActionGenerateImage}
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	_, ok := descriptions[a]
	return ok
}

// Description is the human readable ledger description
func (a Action) Description() string {
	return descriptions[a]
}

// ClampSteps applies the image step bounds. Zero means default.
func ClampSteps(steps int) int {
	switch {
	case steps == 0:
		return DefaultImageSteps
	case steps < MinImageSteps:
		return MinImageSteps
	case steps > MaxImageSteps:
		return MaxImageSteps
	}
	return steps
}

// Cost returns the credits an action consumes
func Cost(action Action, p Params) (int64, error) {
	if action == ActionGenerateImage {
		return int64(ClampSteps(p.Steps)) * CreditsPerStep, nil
	}
	cost, ok := flatCosts[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return cost, nil
}
