package summarize

import (
	"fmt"
	"strings"
)

const mapTemplate = `Give one line summary of below with key functionality and components. Limit to 20 words.
%s
`

const collapseTemplate = `Give a concise summary of below with key functionality and components:
%s
`

const reduceTemplate = `Write a full technical design doc for the below encoded codebase.

At a high level, discuss the purpose and functionalities of the codebase,
major tech stack used, and an overview of the architecture.
Describe the framework and languages used for each tech layer and corresponding
communication protocols. If there's any design unique about this codebase,
make sure to discuss those aspect in closer detail.

Then in more details, describe the mission critical API endpoints.
Describe the overall user experience and product flow.
Talk about the data storage and retrieval strategy, including
performance considerations and specific table schema. Touch on the deployment
flow and infrastructure set up. Include topics around scalability, fault
tolerance and monitoring.

Lastly, briefly touch on the security and authentication aspect.
Talk about potential future improvements and enhancement to the feature set.

Codebase is encoded as follows:
- Each entry starts with a file path followed by a summary of that file
- Entries without a path summarize a group of files

Encoded codebase is:
%s
`

// entrySeparator joins summaries inside collapse and reduce prompts.
const entrySeparator = "\n\n"

// BuildMapPrompt prefixes the document content with its path.
func BuildMapPrompt(path, content string) string {
	return fmt.Sprintf(mapTemplate, path+"\n"+content)
}

func BuildCollapsePrompt(entries []string) string {
	return fmt.Sprintf(collapseTemplate, strings.Join(entries, entrySeparator))
}

func BuildReducePrompt(entries []string) string {
	return fmt.Sprintf(reduceTemplate, strings.Join(entries, entrySeparator))
}

// LeafEntry is the form a leaf summary takes in later stages.
func LeafEntry(path, summary string) string {
	return path + ": " + summary
}
