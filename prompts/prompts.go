package prompts

import _ "embed"

// Embedded prompt files

//go:embed rag_system.txt
var ragSystem string

//go:embed query_understanding.txt
var queryUnderstanding string

//go:embed analyze_knowledge.txt
var analyzeKnowledge string

func RAGSystem() string          { return ragSystem }
func QueryUnderstanding() string { return queryUnderstanding }
func AnalyzeKnowledge() string   { return analyzeKnowledge }
