package config

// DefaultAngleTemplate is the built-in payload template for angle generation
const DefaultAngleTemplate = `Generate {{.AngleCount}} distinct content angles for a {{.ContentType}} based on the following input.

Input ({{.Strategy}}):
{{.RawInput}}

Each angle needs a title, a hook, and the audience it targets. Respond with a JSON array of angle objects.`

// DefaultOutlineTemplate is the built-in payload template for outline generation
const DefaultOutlineTemplate = `Write a structured outline for a {{.ContentType}} taking the angle "{{.AngleTitle}}".

Approved context:
{{.Context}}

Respond with a JSON object containing a title and an array of sections, each with a heading and supporting points.`

// DefaultWritingTemplate is the built-in payload template for full-content writing
const DefaultWritingTemplate = `Write the full {{.ContentType}} following this outline:

{{.Outline}}

Keep the selected hook as the opening. Respond with a JSON object containing title and body.`
