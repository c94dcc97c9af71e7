// Package main provides the entry point for the webimg CLI.
//
// webimg renders web pages, follows their links and stores every image it
// finds, together with a manifest mapping each file to the URL it should be
// credited to.
//
// Usage:
//
//	webimg harvest https://example.com/gallery
//	webimg harvest -d 2 --min-size 800x600 -o images https://example.com/
//
// See --help for all available options.
package main

func main() {
	Execute()
}
