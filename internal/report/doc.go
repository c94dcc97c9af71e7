// Package report renders the outcome of a harvest.
//
// Two kinds of output exist. The manifest (manifest.json in the output
// directory) is the machine contract read by downstream tools: it maps every
// stored filename to its attribution URL. The summary writers (text, JSON and
// Markdown) are for people and scripts that want to know what a run did.
package report
