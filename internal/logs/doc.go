// Package logs reads holod's log file for `holo logs`.
//
// Tail returns the last lines of the file and the offset to resume from;
// Follow polls from an offset and hands new lines to a callback until the
// context ends. Both accept a line filter so the CLI can narrow output to a
// single job in either the console or JSON log format.
package logs
