// Command redirects patches the kernel image so that calls to selected Go
// runtime functions land on kernel replacements.
//
// Kernel functions opt in with a directive placed in their doc comment:
//
//	//go:redirect-from runtime.gopanic
//
// The tool supports two commands which must be run from the repository root:
//
//	redirects count                   prints the number of redirects
//	redirects populate-table <image>  fills the .goredirectstbl section
package main

import (
	"cmp"
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/u-root/uio/uio"
	"golang.org/x/mod/modfile"
)

const (
	redirectDirective  = "//go:redirect-from"
	redirectTableName  = ".goredirectstbl"
	redirectEntrySize  = 16
	kernelSourceFolder = "kernel"
)

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared by the go.mod file in root.
func modulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("reading module file: %w", err)
	}

	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("%s: missing module directive", filepath.Join(root, "go.mod"))
	}

	return path, nil
}

// collectGoFiles returns the non-test Go files under root, relative to base.
func collectGoFiles(base, root string) ([]string, error) {
	var goFiles []string
	err := filepath.WalkDir(filepath.Join(base, root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if name := d.Name(); name != root && (strings.HasPrefix(name, "_") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			goFiles = append(goFiles, filepath.ToSlash(rel))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return goFiles, nil
}

// findRedirects parses goFiles (relative to base) and returns the redirects
// declared by their functions, sorted by source symbol. Destination symbols
// are qualified with pkgPrefix.
func findRedirects(base, pkgPrefix string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, filepath.Join(base, goFile), nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", goFile, err)
		}

		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				// build qualified name to fn
				fqName := fmt.Sprintf("%s/%s.%s", pkgPrefix, filepath.ToSlash(filepath.Dir(goFile)), fnDecl.Name)

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{
					src: fields[1],
					dst: fqName,
				})
			}
		}
	}

	slices.SortFunc(redirects, func(a, b *redirect) int {
		return cmp.Compare(a.src, b.src)
	})

	return redirects, nil
}

// encodeRedirectTable serializes redirects as {srcVMA, dstVMA} pairs of
// little-endian 64-bit addresses.
func encodeRedirectTable(redirects []*redirect) []byte {
	tbl := uio.NewLittleEndianBuffer(nil)
	for _, redirect := range redirects {
		tbl.Write64(redirect.srcVMA)
		tbl.Write64(redirect.dstVMA)
	}

	return tbl.Data()
}

func elfRedirectTable(imgFile string) (offset, size uint64, err error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	redirectsSection := f.Section(redirectTableName)
	if redirectsSection == nil {
		return 0, 0, fmt.Errorf("%s: missing %s section", imgFile, redirectTableName)
	}

	return redirectsSection.Offset, redirectsSection.Size, nil
}

func elfWriteRedirectTable(redirects []*redirect, imgFile string) error {
	offset, size, err := elfRedirectTable(imgFile)
	if err != nil {
		return err
	}

	tbl := encodeRedirectTable(redirects)
	if uint64(len(tbl)) > size {
		return fmt.Errorf("%s: %s section holds %d entries; need %d", imgFile, redirectTableName, size/redirectEntrySize, len(redirects))
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.WriteAt(tbl, int64(offset)); err != nil {
		return fmt.Errorf("writing redirect table: %w", err)
	}

	return nil
}

func elfResolveRedirectSymbols(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return fmt.Errorf("%s: reading symbols: %w", imgFile, err)
	}

	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.src {
				redirect.srcVMA = symbol.Value
			}
			if symbol.Name == redirect.dst {
				redirect.dstVMA = symbol.Value
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.dst)
		}
	}

	return nil
}

// run executes the command in args using root as the repository root.
func run(root string, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}

	cmd := args[0]
	var imgFile string
	switch cmd {
	case "count":
	case "populate-table":
		if len(args) != 2 {
			return errors.New("populate-table requires the path to the kernel image as an argument")
		}
		imgFile = args[1]
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	if fi, err := os.Stat(filepath.Join(root, kernelSourceFolder)); err != nil || !fi.IsDir() {
		return errors.New("this tool must be run from the kernel root folder")
	}

	pkgPrefix, err := modulePath(root)
	if err != nil {
		return err
	}

	goFiles, err := collectGoFiles(root, kernelSourceFolder)
	if err != nil {
		return err
	}

	redirects, err := findRedirects(root, pkgPrefix, goFiles)
	if err != nil {
		return err
	}

	if cmd == "count" {
		fmt.Fprintf(stdout, "%d", len(redirects))
		return nil
	}

	if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		return err
	}

	return elfWriteRedirectTable(redirects, imgFile)
}

func main() {
	flag.Parse()

	if err := run(".", flag.Args(), os.Stdout); err != nil {
		exit(err)
	}
}
