package domain

// QAPair is one question with its correct answer and a plausible but wrong
// answer, tied to the image it was generated from.
type QAPair struct {
	Image           string `json:"image" validate:"required"`
	Question        string `json:"question" validate:"required"`
	CorrectAnswer   string `json:"correct_answer" validate:"required"`
	ConfusingAnswer string `json:"confusing_answer" validate:"required"`
}

// ImageRef returns the image the pair refers to.
func (p QAPair) ImageRef() string { return p.Image }

// QAContent is a single generated entry inside a QARecord. The image is
// carried by the enclosing record.
type QAContent struct {
	Question        string `json:"question" validate:"required"`
	CorrectAnswer   string `json:"correct_answer" validate:"required"`
	ConfusingAnswer string `json:"confusing_answer" validate:"required"`
}

// QARecord is the per-item output of the qa stage.
type QARecord struct {
	// Image is the image path joined with the configured image folder.
	Image   string      `json:"image" validate:"required"`
	Content []QAContent `json:"content" validate:"required,min=1"`
}

// ImageRef returns the image the record was generated from.
func (r QARecord) ImageRef() string { return r.Image }

// Pairs expands the record into one QAPair per content entry.
func (r QARecord) Pairs() []QAPair {
	out := make([]QAPair, 0, len(r.Content))
	for _, c := range r.Content {
		out = append(out, QAPair{
			Image:           r.Image,
			Question:        c.Question,
			CorrectAnswer:   c.CorrectAnswer,
			ConfusingAnswer: c.ConfusingAnswer,
		})
	}
	return out
}

// RationaleRecord is a QA pair plus one rationale supporting the correct
// answer and one supporting the confusing answer.
type RationaleRecord struct {
	Image              string `json:"image" validate:"required"`
	Question           string `json:"question" validate:"required"`
	CorrectAnswer      string `json:"correct_answer" validate:"required"`
	ConfusingAnswer    string `json:"confusing_answer" validate:"required"`
	CorrectRationale   string `json:"correct_rationale" validate:"required"`
	IncorrectRationale string `json:"incorrect_rationale" validate:"required"`
}

// ImageRef returns the image the record refers to.
func (r RationaleRecord) ImageRef() string { return r.Image }

// NewRationaleRecord attaches rationales to a QA pair.
func NewRationaleRecord(p QAPair, correct, incorrect string) RationaleRecord {
	return RationaleRecord{
		Image:              p.Image,
		Question:           p.Question,
		CorrectAnswer:      p.CorrectAnswer,
		ConfusingAnswer:    p.ConfusingAnswer,
		CorrectRationale:   correct,
		IncorrectRationale: incorrect,
	}
}

// JudgedRecord is the per-item output of the judge stage. SecondaryJudge is
// only present when a secondary judge model is configured.
type JudgedRecord struct {
	RationaleRecord
	PrimaryJudge   Verdict  `json:"gemini_pro_judge" validate:"required,oneof=yes no"`
	SecondaryJudge *Verdict `json:"gpt3.5_judge,omitempty" validate:"omitempty,oneof=yes no"`
}

// JudgedRow is a dataset row produced by aggregating judge records.
type JudgedRow struct {
	RationaleRecord
	PrimaryJudge   Verdict  `json:"gemini_pro_judge"`
	SecondaryJudge *Verdict `json:"chatgpt_judge,omitempty"`
}

// Row converts a judged record into its dataset shape.
func (r JudgedRecord) Row() JudgedRow {
	return JudgedRow{
		RationaleRecord: r.RationaleRecord,
		PrimaryJudge:    r.PrimaryJudge,
		SecondaryJudge:  r.SecondaryJudge,
	}
}

// Referencer is implemented by every record and row that points at an
// image. Aggregation filters operate on this reference.
type Referencer interface {
	ImageRef() string
}
