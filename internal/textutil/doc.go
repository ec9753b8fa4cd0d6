// Package textutil provides filename sanitization and slug generation for
// delivered artifacts.
//
// Slugs are built by folding accented characters to ASCII, lowercasing, and
// replacing unsafe characters with underscores, so that track titles become
// stable, filesystem-safe directory and file names.
package textutil
