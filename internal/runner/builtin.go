package runner

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// RegisterBuiltins adds the functions every htjob-run binary ships with.
func RegisterBuiltins(r *Registry) {
	r.Register("copy", copyFunc)
	r.Register("sha256", sha256Func)
	r.Register("wc", wcFunc)
	r.Register("upper", upperFunc)
}

func copyFunc(_ context.Context, input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sha256Func(_ context.Context, input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	h := sha256.New()
	if _, err := io.Copy(h, in); err != nil {
		return err
	}
	return os.WriteFile(output, []byte(hex.EncodeToString(h.Sum(nil))+"\n"), 0o644)
}

func wcFunc(_ context.Context, input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	var lines, words, bytes int
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines++
		words += len(strings.Fields(sc.Text()))
		bytes += len(sc.Bytes()) + 1
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return os.WriteFile(output, []byte(fmt.Sprintf("%d %d %d\n", lines, words, bytes)), 0o644)
}

func upperFunc(_ context.Context, input, output string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, []byte(strings.ToUpper(string(data))), 0o644)
}
