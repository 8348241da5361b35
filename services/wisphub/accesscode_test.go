package wisphub

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
	"wisppos-backend/lib/htmlutil"
	"wisppos-backend/lib/poll"

	"github.com/stretchr/testify/require"
)

var testPlan = Plan{
	Id:       "101",
	Router:   "R1",
	Name:     "Plan A",
	Prefix:   "P1",
	Price:    ptr(10.0),
	Currency: ptr("MXN"),
	Outlets:  []Outlet{{Id: "7", Name: "Outlet-7"}},
}

func TestCreateAccessCode(t *testing.T) {
	portal := newFakePortal(t)
	portal.taskStatuses = []string{"PENDING", "STARTED", "SUCCESS"}
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	voucher, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
	require.NoError(t, err)

	require.Equal(t, testTaskId, voucher.TaskId)
	require.Equal(t, "ABCD-1234", voucher.Code)
	require.Equal(t, portal.server.URL+"/hotspot/login/?ficha=ABCD-1234", voucher.LoginUrl)
	require.Equal(t, map[string]string{
		"Ficha":          "ABCD-1234",
		"Plan":           "R1 - Plan A - P1",
		"Punto de venta": "Outlet-7",
		"Vigencia":       "1 hora",
	}, voucher.Details)

	require.Equal(t, "form-token", portal.submitted.Get("csrfmiddlewaretoken"))
	require.Equal(t, "101", portal.submitted.Get("plan"))
	require.Equal(t, "1", portal.submitted.Get("cantidad"))
	require.Equal(t, "7", portal.submitted.Get("punto_venta"))
	require.Equal(t, "ticket", portal.submitted.Get("imprimir"))

	require.Equal(t, 3, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/estado/"))
	require.Equal(t, 1, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/"))

	require.Len(t, client.timers, 1)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, client.timers[0].Waits)

	// cookies of every exchange end up in the persisted jar
	persisted := client.persistedJar(t)
	require.Equal(t, "rotated-csrf", persisted["csrftoken"].Value)
	require.Equal(t, "3", persisted["poll"].Value)
	require.Equal(t, "seeded", persisted[SessionCookie].Value)
}

func TestCreateAccessCodeSendsSortedCookieHeader(t *testing.T) {
	portal := newFakePortal(t)
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
	require.NoError(t, err)
	require.Equal(t, "csrftoken=page-csrf;sessionid=seeded", portal.cookieHeaders[0])
	require.Equal(t, "csrftoken=rotated-csrf;sessionid=seeded", portal.cookieHeaders[1])
}

func TestCreateAccessCodeTimesOut(t *testing.T) {
	portal := newFakePortal(t)
	portal.taskStatuses = []string{"PENDING"}
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
	var timeoutErr *TaskTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, 10, timeoutErr.Attempts)
	require.Equal(t, testTaskId, timeoutErr.TaskId)
	require.ErrorIs(t, err, poll.ErrExhausted)

	require.Equal(t, 10, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/estado/"))
	require.Equal(t, 0, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/"))
	require.Len(t, client.timers[0].Waits, 9)
	require.Equal(t, "10", client.persistedJar(t)["poll"].Value)
}

func TestCreateAccessCodeTaskFails(t *testing.T) {
	for _, status := range []string{"FAILURE", "REVOKED"} {
		t.Run(status, func(t *testing.T) {
			portal := newFakePortal(t)
			portal.taskStatuses = []string{"PENDING", status}
			client := newTestClient(t, portal)
			jar := client.withSession(t)

			_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
			var failedErr *TaskFailedError
			require.True(t, errors.As(err, &failedErr))
			require.Equal(t, status, failedErr.Status)
			require.Equal(t, 2, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/estado/"))
		})
	}
}

func TestCreateAccessCodeConfirmationStatus(t *testing.T) {
	portal := newFakePortal(t)
	portal.confirmationStatus = http.StatusFound
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
	var confirmErr *TaskConfirmationError
	require.True(t, errors.As(err, &confirmErr))
	require.Equal(t, http.StatusFound, confirmErr.Status)
}

func TestCreateAccessCodeTaskIdMissing(t *testing.T) {
	portal := newFakePortal(t)
	portal.createdPage = []byte(`<html><body><p>Error al generar las fichas</p></body></html>`)
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-7", jar)
	require.ErrorIs(t, err, ErrTaskIdMissing)
	require.ErrorIs(t, err, htmlutil.ErrNotFound)
	require.Equal(t, 0, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/estado/"))
}

func TestCreateAccessCodeOutletNotAssociated(t *testing.T) {
	portal := newFakePortal(t)
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	_, err := client.CreateAccessCode(context.Background(), testAccount, testPlan, "Outlet-8", jar)
	var outletErr *OutletNotAssociatedError
	require.True(t, errors.As(err, &outletErr))
	require.Equal(t, 0, portal.TotalHits())
}

func TestCreateAccessCodeCancelled(t *testing.T) {
	portal := newFakePortal(t)
	portal.taskStatuses = []string{"PENDING"}
	client := newTestClient(t, portal)
	jar := client.withSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.CreateAccessCode(ctx, testAccount, testPlan, "Outlet-7", jar)
	require.Error(t, err)
	require.Equal(t, 0, portal.Hits(http.MethodGet, "/fichas/tarea/"+testTaskId+"/estado/"))
}

func TestParseTaskStatus(t *testing.T) {
	testCases := []struct {
		raw      string
		expected TaskStatus
	}{
		{raw: "SUCCESS", expected: TaskSuccess},
		{raw: " success ", expected: TaskSuccess},
		{raw: "FAILURE", expected: TaskFailure},
		{raw: "REVOKED", expected: TaskFailure},
		{raw: "PENDING", expected: TaskProgress},
		{raw: "STARTED", expected: TaskProgress},
		{raw: "PROGRESS", expected: TaskProgress},
		{raw: "", expected: TaskProgress},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, ParseTaskStatus(test.raw), test.raw)
	}
}
