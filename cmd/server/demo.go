package main

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
)

var demoQuizID = uuid.MustParse("6f1c2a3e-0d4b-4c7e-9a51-2b8d7e4f9c10")

var demoQuestions = []models.Question{
	{Prompt: "What is 7 x 8?", Options: []string{"54", "56", "64", "48"}, CorrectOption: 1, TimeLimitSec: 20, Points: 1000},
	{Prompt: "Which planet is known as the red planet?", Options: []string{"Venus", "Jupiter", "Mars"}, CorrectOption: 2, TimeLimitSec: 20, Points: 1000},
	{Prompt: "H2O is the chemical formula for?", Options: []string{"Salt", "Water", "Oxygen", "Hydrogen"}, CorrectOption: 1, TimeLimitSec: 15, Points: 1000},
	{Prompt: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, CorrectOption: 1, TimeLimitSec: 15, Points: 1000},
	{Prompt: "Who wrote \"Romeo and Juliet\"?", Options: []string{"Dickens", "Austen", "Shakespeare", "Tolstoy"}, CorrectOption: 2, TimeLimitSec: 25, Points: 2000},
}
