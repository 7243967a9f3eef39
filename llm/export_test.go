package llm

// SummarizeBody exposes summarizeBody for tests.
var SummarizeBody = summarizeBody

// Paced reports whether the client waits on a rate limiter before each request.
func Paced(c *Client) bool {
	return c.limiter != nil
}
