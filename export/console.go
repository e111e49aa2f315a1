package export

import (
	"context"
	"fmt"
	"io"

	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
)

type ConsoleReporter struct {
	out io.Writer
}

func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

func (r *ConsoleReporter) Name() string {
	return "console"
}

// Publish prints the contributor addresses, the records and the totals.
func (r *ConsoleReporter) Publish(_ context.Context, export *domain.Export) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(r.out, format, args...)
		}
	}

	printf("contributors:\n")
	for _, c := range export.Contributions {
		printf("  %s\n", c.Contributor)
	}
	printf("contributions:\n")
	for _, c := range export.Contributions {
		printf("  { contributor: %s, balance: %s, ob: %s }\n", c.Contributor, c.Balance, c.Ob)
	}
	printf("total_dot: %s\n", export.Totals.Balance)
	printf("total_ob: %s\n", export.Totals.Ob)

	if err != nil {
		return domain.NewFailure(domain.KindWrite, errors.Wrap(err, "printing report"))
	}
	return nil
}
