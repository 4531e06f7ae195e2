package model

import "github.com/google/uuid"

// Question is a single-select question inside a test paper.
// CorrectChoice never leaves the server; students receive QuestionView.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Choices       []string `json:"choices"`
	Marks         float64  `json:"marks"`
	CorrectChoice int      `json:"correct_choice"`
	OrderNum      int      `json:"order_num"`
}

// QuestionView is a question without the correct answer, sent to students.
type QuestionView struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Choices  []string `json:"choices"`
	Marks    float64  `json:"marks"`
	OrderNum int      `json:"order_num"`
}

// View projects the question into its student-facing form.
func (q Question) View() QuestionView {
	choices := make([]string, len(q.Choices))
	copy(choices, q.Choices)
	return QuestionView{
		ID:       q.ID,
		Text:     q.Text,
		Choices:  choices,
		Marks:    q.Marks,
		OrderNum: q.OrderNum,
	}
}

// TestPaper is the immutable question set of one test, as supplied by the
// question source.
type TestPaper struct {
	TestID          uuid.UUID  `json:"test_id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	Questions       []Question `json:"questions"`
}

// MaxMarks returns the sum of marks over all questions.
func (p *TestPaper) MaxMarks() float64 {
	var total float64
	for _, q := range p.Questions {
		total += q.Marks
	}
	return total
}

// Views returns the student-facing projection of every question in order.
func (p *TestPaper) Views() []QuestionView {
	views := make([]QuestionView, len(p.Questions))
	for i, q := range p.Questions {
		views[i] = q.View()
	}
	return views
}

// Lookup returns the question with the given ID.
func (p *TestPaper) Lookup(id string) (Question, bool) {
	for _, q := range p.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// PaperPayload is the response body for a student fetching a test paper.
type PaperPayload struct {
	TestID          uuid.UUID      `json:"test_id"`
	Title           string         `json:"title"`
	DurationSeconds int            `json:"duration_seconds"`
	MaxMarks        float64        `json:"max_marks"`
	Questions       []QuestionView `json:"questions"`
}

// Payload builds the student-facing paper.
func (p *TestPaper) Payload() PaperPayload {
	return PaperPayload{
		TestID:          p.TestID,
		Title:           p.Title,
		DurationSeconds: p.DurationSeconds,
		MaxMarks:        p.MaxMarks(),
		Questions:       p.Views(),
	}
}
