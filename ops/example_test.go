package ops_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/sirupsen/logrus"

	"github.com/evan-idocoding/peon/ops"
	"github.com/evan-idocoding/peon/rt/task"
)

func ExampleHealthzHandler() {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ops.HealthzHandler().ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// ok
}

func ExampleLogLevelSetHandler() {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/?level=warn", nil)
	ops.LogLevelSetHandler(l).ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// log	old_level	error
	// log	old_level_value	2
	// log	new_level	warn
	// log	new_level_value	3
}

func ExampleTaskTypesHandler() {
	reg := task.NewRegistry()
	reg.MustRegister(task.TypeSpec{Name: "backup", Policy: task.ApplicationBlocking()})
	reg.MustRegister(task.TypeSpec{Name: "import", Policy: task.CategoryBlocking("db")})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ops.TaskTypesHandler(reg).ServeHTTP(rr, req)

	fmt.Print(rr.Body.String())

	// Output:
	// type	backup	blocking	application
	// type	import	blocking	category
	// type	import	category	db
}
