package mcpserver

const contractURI = "gitmarks://entry-format"

// EntryFormatContract describes how gitmarks lays out entries in a
// repository. LLM consumers should read it before staging notes.
const EntryFormatContract = `# gitmarks Entry Format

gitmarks keeps notes, documents and bookmarks as plain files in Git
repositories. Changes are staged in memory and pushed with commit_changes,
one commit per repository.

## Entries

- **Note**: a ` + "`" + `.md` + "`" + ` file. The file name without extension is the title; the
  folder is the location. The body is ordinary Markdown with no frontmatter.
- **Document**: any other file, e.g. ` + "`" + `scans/invoice.pdf` + "`" + `.
- **Link**: a bookmark. Every URL written in a note body becomes a link
  automatically. Links can also be kept standalone with add_link.

## Labels and timestamps

Labels and the created/updated timestamps of a file live in a sidecar under the
reserved ` + "`" + `.gitmarks/` + "`" + ` folder:

` + "```" + `yaml
# .gitmarks/journal/Today.md.meta.yaml
labels: [daily, work]
timeCreated: 2025-01-20T09:30:00
timeUpdated: 2025-01-20T10:02:11
` + "```" + `

Do not write sidecars yourself; pass labels to create_note instead.

## Link store

Link titles, own labels and the standalone flag are kept in
` + "`" + `.gitmarks/links.yaml` + "`" + ` and rewritten on every change.

## Rules

1. Titles must not be empty. A "/" in a title is stored as "∕" in the file name.
2. Locations use forward slashes and never start with ` + "`" + `.gitmarks` + "`" + `.
3. Use full URLs (` + "`" + `https://...` + "`" + `) in note bodies so they are picked up as links.
4. Nothing is pushed until commit_changes succeeds; reload discards staged edits.

## Example

` + "```" + `markdown
# Weekly standup 2025-01-20

Attendees: Alice, Bob.

- Review the design doc: https://example.com/design
- Release notes: https://go.dev/doc/devel/release
` + "```" + `
`
