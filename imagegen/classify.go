package imagegen

import "strings"

// ClassifyProvider inspects an endpoint URL and decides which wire protocol
// to speak. Pure and total: no network access, unrecognized shapes fall
// back to the generic OpenAI-style protocol. New providers are added here
// and in the request builder / response extractor, never at call sites.
func ClassifyProvider(endpoint string) Provider {
	e := strings.ToLower(strings.TrimSpace(endpoint))

	// Gemini exposes model invocation as a path verb: .../models/<name>:generateContent
	if strings.Contains(e, ":generatecontent") ||
		strings.Contains(e, ":streamgeneratecontent") ||
		(strings.Contains(e, "generativelanguage") && strings.Contains(e, "/models/")) {
		return ProviderGemini
	}

	// Task-submission endpoints answer with a task id instead of an image.
	for _, seg := range []string{"/createtask", "/create-task", "/create_task", "/submit-task", "/task/submit", "/tasks/submit", "/async/"} {
		if strings.Contains(e, seg) {
			return ProviderAsyncTask
		}
	}

	return ProviderGeneric
}
