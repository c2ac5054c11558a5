package domain

// Question is one entry of the session's question bank, authored by the
// host before the game opens. The core only consumes the derived shuffled
// options and correct index.
//
// A question with an empty CorrectAnswer is a trick question: it has no
// correct option and every submission counts as correct.
type Question struct {
	ID            string   `json:"id"`
	SessionID     string   `json:"session_id"`
	Position      int      `json:"position"`
	Prompt        string   `json:"prompt"`
	CorrectAnswer string   `json:"correct_answer"`
	WrongAnswers  []string `json:"wrong_answers"`
	ImageURL      string   `json:"image_url,omitempty"`
}

// QuestionInput represents a host-supplied question before it is assigned
// an ID and position
type QuestionInput struct {
	Prompt        string   `json:"prompt"`
	CorrectAnswer string   `json:"correct_answer"`
	WrongAnswers  []string `json:"wrong_answers"`
	ImageURL      string   `json:"image_url,omitempty"`
}
