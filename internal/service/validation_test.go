package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

type fakeLicenseStore struct {
	mu       sync.Mutex
	licenses map[string]*model.License
	lookups  int
}

func newFakeLicenseStore(licenses ...*model.License) *fakeLicenseStore {
	s := &fakeLicenseStore{licenses: make(map[string]*model.License)}
	for _, lic := range licenses {
		s.licenses[lic.LicenseKey] = lic
	}
	return s
}

func (s *fakeLicenseStore) GetLicenseByKey(_ context.Context, key string) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	lic, ok := s.licenses[key]
	if !ok {
		return nil, repository.ErrLicenseNotFound
	}
	return lic, nil
}

// fakeDeviceStore mirrors the upsert-on-validate semantics of the real
// repository, including quota enforcement, behind a single mutex.
type fakeDeviceStore struct {
	mu       sync.Mutex
	bindings map[string]map[string]*model.DeviceBinding // licenseID -> hwid
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{bindings: make(map[string]map[string]*model.DeviceBinding)}
}

func (s *fakeDeviceStore) UpsertDeviceOnValidate(_ context.Context, licenseID, hwid, deviceName, osInfo string, maxDevices int) (*model.DeviceBindResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHWID := s.bindings[licenseID]
	if byHWID == nil {
		byHWID = make(map[string]*model.DeviceBinding)
		s.bindings[licenseID] = byHWID
	}

	if existing, ok := byHWID[hwid]; ok {
		now := time.Now()
		existing.LastVerifiedAt = &now
		existing.IsActive = true
		return &model.DeviceBindResult{
			Outcome:       model.BindRefreshed,
			Binding:       existing,
			ActiveDevices: s.countActiveLocked(licenseID),
		}, nil
	}

	count := s.countActiveLocked(licenseID)
	if count >= maxDevices {
		return &model.DeviceBindResult{
			Outcome:       model.BindRejectedQuota,
			ActiveDevices: count,
		}, nil
	}

	now := time.Now()
	binding := &model.DeviceBinding{
		ID:             fmt.Sprintf("dev-%s-%s", licenseID, hwid),
		LicenseID:      licenseID,
		HWID:           hwid,
		DeviceName:     deviceName,
		OSInfo:         osInfo,
		IsActive:       true,
		LastVerifiedAt: &now,
		CreatedAt:      now,
	}
	byHWID[hwid] = binding

	return &model.DeviceBindResult{
		Outcome:       model.BindAccepted,
		Binding:       binding,
		ActiveDevices: count + 1,
	}, nil
}

func (s *fakeDeviceStore) CountActiveDevices(_ context.Context, licenseID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(licenseID), nil
}

func (s *fakeDeviceStore) countActiveLocked(licenseID string) int {
	count := 0
	for _, b := range s.bindings[licenseID] {
		if b.IsActive {
			count++
		}
	}
	return count
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func (a *fakeAuditor) Record(_ context.Context, entry *model.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeLicense(key string, maxDevices int) *model.License {
	return &model.License{
		ID:           "lic-" + key,
		LicenseKey:   key,
		CustomerID:   "cust-1",
		ProductID:    "prod-1",
		Status:       model.LicenseStatusActive,
		MaxDevices:   maxDevices,
		CustomerName: "Acme Corp",
		ProductName:  "Widget Pro",
	}
}

func newTestService(licenses *fakeLicenseStore, devices *fakeDeviceStore, auditor *fakeAuditor) *ValidationService {
	return NewValidationService(licenses, devices, auditor, testLogger(), nil)
}

func TestValidateUnknownKey(t *testing.T) {
	svc := newTestService(newFakeLicenseStore(), newFakeDeviceStore(), &fakeAuditor{})

	_, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: "ABCD-1234-EFGH-5678"})
	if !errors.Is(err, ErrLicenseNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrLicenseNotFound)
	}
}

func TestValidateMalformedKeySkipsLookup(t *testing.T) {
	licenses := newFakeLicenseStore()
	svc := newTestService(licenses, newFakeDeviceStore(), &fakeAuditor{})

	for _, key := range []string{"", "abcd-1234-efgh-5678", "ABCD1234EFGH5678", "ABCD-1234-EFGH-567"} {
		_, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: key})
		if !errors.Is(err, ErrLicenseNotFound) {
			t.Errorf("key %q: err = %v, want %v", key, err, ErrLicenseNotFound)
		}
	}

	if licenses.lookups != 0 {
		t.Errorf("lookups = %d, want 0 for malformed keys", licenses.lookups)
	}
}

func TestValidateStatusDenial(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)

	tests := []struct {
		name        string
		status      model.LicenseStatus
		expireAt    *time.Time
		wantMessage string
	}{
		{"pending", model.LicenseStatusPending, nil, "License is pending"},
		{"suspended", model.LicenseStatusSuspended, nil, "License is suspended"},
		{"recorded expired", model.LicenseStatusExpired, nil, "License is expired"},
		// The recorded status wins even when the expiry has also passed.
		{"suspended with past expiry", model.LicenseStatusSuspended, &past, "License is suspended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := activeLicense("AAAA-BBBB-CCCC-DDDD", 3)
			lic.Status = tt.status
			lic.ExpireAt = tt.expireAt

			auditor := &fakeAuditor{}
			svc := newTestService(newFakeLicenseStore(lic), newFakeDeviceStore(), auditor)

			verdict, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: lic.LicenseKey})
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if verdict.Valid {
				t.Fatal("verdict.Valid = true, want false")
			}
			if verdict.Denial != DenialStatus {
				t.Errorf("Denial = %v, want DenialStatus", verdict.Denial)
			}
			if got := verdict.DenialMessage(); got != tt.wantMessage {
				t.Errorf("DenialMessage() = %q, want %q", got, tt.wantMessage)
			}
			if auditor.count() != 0 {
				t.Errorf("audit entries = %d, want 0 on denial", auditor.count())
			}
		})
	}
}

func TestValidateTimeExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	lic := activeLicense("AAAA-BBBB-CCCC-DDDD", 3)
	lic.ExpireAt = &past

	svc := newTestService(newFakeLicenseStore(lic), newFakeDeviceStore(), &fakeAuditor{})

	verdict, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: lic.LicenseKey})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Valid {
		t.Fatal("verdict.Valid = true, want false")
	}
	if verdict.Denial != DenialExpired {
		t.Errorf("Denial = %v, want DenialExpired", verdict.Denial)
	}
	if got := verdict.DenialMessage(); got != "License has expired" {
		t.Errorf("DenialMessage() = %q, want %q", got, "License has expired")
	}
}

func TestValidateSuccessWithoutHWID(t *testing.T) {
	lic := activeLicense("ABCD-1234-EFGH-5678", 5)
	devices := newFakeDeviceStore()
	auditor := &fakeAuditor{}
	svc := newTestService(newFakeLicenseStore(lic), devices, auditor)

	verdict, err := svc.Validate(context.Background(), ValidateInput{
		LicenseKey: lic.LicenseKey,
		ActorID:    "owner-1",
		IPAddress:  "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Valid {
		t.Fatal("verdict.Valid = false, want true")
	}
	if verdict.ActiveDevices != 0 {
		t.Errorf("ActiveDevices = %d, want 0", verdict.ActiveDevices)
	}
	if len(devices.bindings[lic.ID]) != 0 {
		t.Error("binding created for hwid-less request")
	}

	if auditor.count() != 1 {
		t.Fatalf("audit entries = %d, want 1", auditor.count())
	}
	entry := auditor.entries[0]
	if entry.Action != model.AuditActionValidate {
		t.Errorf("audit action = %q, want %q", entry.Action, model.AuditActionValidate)
	}
	if want := "License validated via API: ABCD-1234-EFGH-5678"; entry.Description != want {
		t.Errorf("audit description = %q, want %q", entry.Description, want)
	}
	if entry.ActorID != "owner-1" || entry.IPAddress != "203.0.113.9" {
		t.Errorf("audit actor/ip = %q/%q", entry.ActorID, entry.IPAddress)
	}
}

func TestValidateBindsNewDevice(t *testing.T) {
	lic := activeLicense("ABCD-1234-EFGH-5678", 3)
	svc := newTestService(newFakeLicenseStore(lic), newFakeDeviceStore(), &fakeAuditor{})

	verdict, err := svc.Validate(context.Background(), ValidateInput{
		LicenseKey: lic.LicenseKey,
		HWID:       "hwid-1",
		DeviceName: "Work Laptop",
		OSInfo:     "Windows 11",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Valid {
		t.Fatal("verdict.Valid = false, want true")
	}
	if verdict.BindOutcome != model.BindAccepted {
		t.Errorf("BindOutcome = %v, want BindAccepted", verdict.BindOutcome)
	}
	if verdict.ActiveDevices != 1 {
		t.Errorf("ActiveDevices = %d, want 1", verdict.ActiveDevices)
	}
}

func TestValidateRebindIsIdempotent(t *testing.T) {
	lic := activeLicense("ABCD-1234-EFGH-5678", 1)
	svc := newTestService(newFakeLicenseStore(lic), newFakeDeviceStore(), &fakeAuditor{})

	first, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: lic.LicenseKey, HWID: "hwid-1"})
	if err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if first.BindOutcome != model.BindAccepted {
		t.Fatalf("first BindOutcome = %v, want BindAccepted", first.BindOutcome)
	}

	// Same hwid again: quota is full but the existing binding must be
	// refreshed, not rejected.
	second, err := svc.Validate(context.Background(), ValidateInput{LicenseKey: lic.LicenseKey, HWID: "hwid-1"})
	if err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if !second.Valid {
		t.Fatal("second verdict.Valid = false, want true")
	}
	if second.BindOutcome != model.BindRefreshed {
		t.Errorf("second BindOutcome = %v, want BindRefreshed", second.BindOutcome)
	}
	if second.ActiveDevices != 1 {
		t.Errorf("ActiveDevices = %d, want 1", second.ActiveDevices)
	}
}

func TestValidateQuotaBoundary(t *testing.T) {
	lic := activeLicense("ABCD-1234-EFGH-5678", 2)
	devices := newFakeDeviceStore()
	auditor := &fakeAuditor{}
	svc := newTestService(newFakeLicenseStore(lic), devices, auditor)

	ctx := context.Background()

	for _, hwid := range []string{"hwid-a", "hwid-b"} {
		verdict, err := svc.Validate(ctx, ValidateInput{LicenseKey: lic.LicenseKey, HWID: hwid})
		if err != nil {
			t.Fatalf("Validate(%s): %v", hwid, err)
		}
		if !verdict.Valid || verdict.BindOutcome != model.BindAccepted {
			t.Fatalf("Validate(%s): valid=%v outcome=%v", hwid, verdict.Valid, verdict.BindOutcome)
		}
	}

	// Third device over quota: denied, no binding created.
	verdict, err := svc.Validate(ctx, ValidateInput{LicenseKey: lic.LicenseKey, HWID: "hwid-c"})
	if err != nil {
		t.Fatalf("Validate(hwid-c): %v", err)
	}
	if verdict.Valid {
		t.Fatal("over-quota verdict.Valid = true, want false")
	}
	if verdict.Denial != DenialQuota {
		t.Errorf("Denial = %v, want DenialQuota", verdict.Denial)
	}
	if got := verdict.DenialMessage(); got != "Maximum devices reached" {
		t.Errorf("DenialMessage() = %q, want %q", got, "Maximum devices reached")
	}
	if verdict.ActiveDevices != 2 {
		t.Errorf("ActiveDevices = %d, want 2", verdict.ActiveDevices)
	}
	if _, ok := devices.bindings[lic.ID]["hwid-c"]; ok {
		t.Error("rejected device was stored")
	}

	// Existing devices keep validating at full quota.
	again, err := svc.Validate(ctx, ValidateInput{LicenseKey: lic.LicenseKey, HWID: "hwid-a"})
	if err != nil {
		t.Fatalf("Validate(hwid-a again): %v", err)
	}
	if !again.Valid || again.BindOutcome != model.BindRefreshed {
		t.Errorf("re-validate at quota: valid=%v outcome=%v", again.Valid, again.BindOutcome)
	}

	// Two accepts, one refresh; the quota rejection is not audited.
	if auditor.count() != 3 {
		t.Errorf("audit entries = %d, want 3", auditor.count())
	}
}

func TestValidateConcurrentBindsRespectQuota(t *testing.T) {
	const maxDevices = 3
	const attempts = 20

	lic := activeLicense("ABCD-1234-EFGH-5678", maxDevices)
	svc := newTestService(newFakeLicenseStore(lic), newFakeDeviceStore(), &fakeAuditor{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	rejected := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			verdict, err := svc.Validate(context.Background(), ValidateInput{
				LicenseKey: lic.LicenseKey,
				HWID:       fmt.Sprintf("hwid-%d", n),
			})
			if err != nil {
				t.Errorf("Validate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if verdict.Valid {
				accepted++
			} else if verdict.Denial == DenialQuota {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	if accepted != maxDevices {
		t.Errorf("accepted = %d, want exactly %d", accepted, maxDevices)
	}
	if rejected != attempts-maxDevices {
		t.Errorf("rejected = %d, want %d", rejected, attempts-maxDevices)
	}
}
