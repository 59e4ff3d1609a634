package stages

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultQAPrompt asks a vision model for three QA pairs about one image.
const DefaultQAPrompt = `As an image-based question-answer generator, your task is to create 3 challenging questions related to a given image, each accompanied by one correct and one misleading answer. Ensure adherence to these guidelines:
1. Formulate questions that can be definitively answered using the image and general knowledge
2. The questions should require multi-step analysis to solve, avoiding overly simple queries
3. Draw inspiration from diverse fields such as daily life, mathematics, sciences or programming, focusing on visual elements within the image like objects, symbols, or text.
4. Employ a diverse array of question formats, such as open-ended, multiple-choice, yes/no, and short-answer types.
5. Provide one accurate answer and one plausible but incorrect answer for each question
6. Keep questions clear and concise
7. Present your output in JSON format, structured as follows: [{"question": ..., "correct_answer": ..., "confusing_answer": ...}, ...]. Refrain from including extraneous content
`

// DefaultCorrectRationalePrompt asks for reasoning that leads to the correct
// answer. Fields: .Question, .Answer.
const DefaultCorrectRationalePrompt = `You are an image-based question-answer analyst. Given an image and an image-based question-answer pair, your task is to generate rationale that leading to the correct answer.
Ensure adherence to these guidelines:

1. Analyze the provided image carefully, focusing on key details relevant to the question.
2. The rationale should be concise and logic coherent.
3. Ensure that each reasoning in the rationale is clear, and directly contributes to reaching the answer. Where appropriate, bring in external knowledge to provide context or clarify connections.
4. Do not repeat the correct answer. Output the rationale only. Refrain from including extraneous content

Question: {{.Question}}
Answer: {{.Answer}}
Rationale:`

// DefaultIncorrectRationalePrompt asks why the confusing answer is wrong.
// Fields: .Question, .Answer.
const DefaultIncorrectRationalePrompt = `You are tasked with analyzing an image in relation to a specific question and an incorrect answer provided for that question. Your main objective is to identify and explain why the answer is incorrect by closely examining the image and focusing on the crucial elements related to the question. Your analysis should

1. Analyze the provided image carefully, focusing on key details relevant to the question.
2. Craft a comprehensive rationale that explicates the reasons why the provided answer to the question is incorrect. This should involve a meticulous breakdown of the image's details, highlighting specific aspects that demonstrate the inaccuracy of the answer.
3. Ensure that each point in your rationale is clear, concise, and directly contributes to explaining why the answer is incorrect. The rationale should be logically structured, with each argument clearly supporting the conclusion that the answer is incorrect. Where appropriate, bring in external knowledge to provide context or clarify connections.
4. Output the rationale only. Refrain from including extraneous content

Question: {{.Question}}
Incorrect Answer: {{.Answer}}
Rationale:`

// DefaultJudgePrompt asks a text model whether two rationales contradict.
// Fields: .Question, .CorrectAnswer, .CorrectRationale, .ConfusingAnswer,
// .IncorrectRationale.
const DefaultJudgePrompt = `Your task is to review a set of materials related to a specific question. These materials include a question, a positive answer with its analysis, and a negative answer with its analysis. Your primary goal is to determine whether there is a contradiction between the positive answer analysis and the negative answer analysis.

Materials Provided:

Question: The main question being addressed.
Positive Answer: The answer that correctly addresses the question.
Positive Answer Analysis: Explanation of why the positive answer is correct.
Negative Answer: A confusing and incorrect answer to the question.
Negative Answer Analysis: Analysis of why the negative answer is incorrect.

Steps to Follow:

1. Understand the question being asked.
2. Read the answer considered correct. Understand the explanation provided for why this answer is correct.
3. Read the answer considered incorrect. Understand the explanation provided for why this answer is incorrect.
4. Compare the reasons provided in both analyses. Identify specific instances where the analyses directly contradict each other beyond their natural stance of opposition. A contradiction exists if the rationale in the negative answer analysis conflicts with the positive answer analysis/positive answer. Contradictions may include conflicting facts or incompatible conclusions drawn from the same premise.
5. Note that the positive analysis aims to justify the correctness of the positive answer, while the negative analysis focuses on highlighting the flaws in the negative answer. This natural dichotomy is not the contradiction of interest.
6. Decide if a contradiction is present: Respond 'No' if there is no contradiction. Respond 'Yes' if there is a contradiction between the analyses.
7. Only output 'Yes' or 'No'. Refrain from including extraneous content

Question: {{.Question}}
Positive Answer: {{.CorrectAnswer}}
Positive Answer Analysis: {{.CorrectRationale}}
Negative Answer: {{.ConfusingAnswer}}
Negative Answer Analysis: {{.IncorrectRationale}}`

// answerPrompt is the data passed to the rationale templates.
type answerPrompt struct {
	Question string
	Answer   string
}

// parsePrompt compiles text, falling back to def when text is blank.
// Missing fields are an error at render time rather than "<no value>".
func parsePrompt(name, text, def string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = def
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s prompt: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return sb.String(), nil
}
