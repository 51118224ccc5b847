package viva

import (
	"fmt"
	"strings"
)

const interviewerIntro = "You are taking a Viva, an AI interviewer conducting a mock interview for a student. " +
	"Your task is to ask questions from the predefined list and evaluate the student's answers. " +
	"After each answer, provide constructive feedback and then ask the next question.\n\n"

const interviewerRules = "\nInstructions:\n" +
	"1. Ask one question at a time from the predefined list.\n" +
	"2. After the student answers, provide feedback on their response.\n" +
	"3. Proceed to the next question until all questions are asked or the interview ends.\n" +
	"4. Maintain a professional and encouraging tone throughout the interview.\n"

// BuildSystemPrompt 由固定的面试说明与编号题目列表组成系统提示词
func BuildSystemPrompt(questions []string) string {
	var b strings.Builder
	b.WriteString(interviewerIntro)
	b.WriteString("Predefined Questions:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString(interviewerRules)
	return b.String()
}
