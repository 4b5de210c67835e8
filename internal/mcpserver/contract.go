package mcpserver

// DocumentContract describes how object content must be written by LLM
// clients. Metadata (title, type, tags, properties) travels in tool
// arguments; content is an HTML fragment.
const DocumentContract = `# Loom Document Format

Every object has an id, a title, a type (Note, Meeting, Person, Project, ...),
optional tags and typed properties. Content is an HTML fragment.

## Content

- Use plain semantic HTML: <p>, <h2>-<h4>, <ul>/<ol>/<li>, <blockquote>, <pre>, <a>, <img>.
- Do not include <html>, <head> or <body>.
- Do not write a frontmatter table or a "Backlinks" section. Both are
  generated when the object is pushed to the remote store and are stripped
  again when it is read back.

## Mentions

Mention another object with a span carrying its id:

` + "```" + `html
<span data-object-id="OBJECT_ID">Display title</span>
` + "```" + `

Mentions feed backlinks and the relationship graph. On push they become
links to the remote document when the target is synced, a greyed
"(not synced)" label when it exists only locally, and plain text otherwise.
Find ids with search_objects or list_objects.

## Images

1. Call upload_asset with an http(s) URL or a base64 data URI.
2. Paste the returned imageTag into the content:

` + "```" + `html
<img src="asset:ASSET_ID" alt="description">
` + "```" + `

The asset is uploaded to the remote store the next time the object is saved.

## Updates

read_object returns a checksum. Pass it as if_match to save_object; a stale
checksum is rejected and the object must be re-read.

## Example

` + "```" + `html
<h2>Kickoff</h2>
<p>Met with <span data-object-id="6f1e...">Ada Lovelace</span> about
<span data-object-id="b2c4...">Project Atlas</span>.</p>
<ul>
  <li>Agree on milestones</li>
  <li>Draft the roadmap</li>
</ul>
<img src="asset:91ab..." alt="Whiteboard photo">
` + "```" + `
`
