package registry

import (
	"testing"
	"time"

	"github.com/paynet/bank-gateway/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var registeredAt = time.Date(2025, 4, 14, 6, 0, 0, 0, time.UTC)

func newTestRegistry() *Registry {
	return New(Options{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return registeredAt },
	})
}

func merchantRegistration() entities.Registration {
	return entities.Registration{
		Name:           "Corner Shop",
		RoutingCode:    "HDFC0001",
		Secret:         "shop-secret",
		InitialBalance: decimal.NewFromInt(500),
	}
}

func payerRegistration() entities.Registration {
	return entities.Registration{
		Name:           "Alice",
		RoutingCode:    "ICIC0002",
		Secret:         "alice-secret",
		InitialBalance: decimal.NewFromInt(1000),
		PIN:            "1234",
		ContactHandle:  "9876543210",
	}
}

func TestRegistry_RegisterMerchant(t *testing.T) {
	r := newTestRegistry()

	account, err := r.RegisterMerchant(merchantRegistration())
	require.NoError(t, err)

	assert.Len(t, account.ID, 16)
	assert.Equal(t, DeriveIdentifier("Corner Shop", "shop-secret", registeredAt), account.ID)
	assert.Equal(t, entities.RoleMerchant, account.Role)
	assert.Equal(t, "HDFC", account.Institution)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(500)))
	assert.NotEqual(t, []byte("shop-secret"), account.SecretHash)
	assert.NoError(t, CheckSecret(account, "shop-secret"))

	found, err := r.Merchant(account.ID)
	require.NoError(t, err)
	assert.Same(t, account, found)
}

func TestRegistry_RegisterPayer(t *testing.T) {
	r := newTestRegistry()

	account, err := r.RegisterPayer(payerRegistration())
	require.NoError(t, err)

	assert.Equal(t, entities.RolePayer, account.Role)
	assert.Equal(t, "ICICI", account.Institution)
	assert.Equal(t, DeriveLinkingToken(account.ID, "9876543210"), account.LinkingToken)
	assert.Len(t, account.LinkingToken, 16)
	assert.NoError(t, CheckPIN(account, "1234"))

	byToken, err := r.PayerByLinkingToken(account.LinkingToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, byToken.ID)

	_, err = r.Merchant(account.ID)
	require.ErrorIs(t, err, entities.ErrNotFound)
}

func TestRegistry_Register_validation(t *testing.T) {
	testData := []struct {
		name   string
		modify func(reg *entities.Registration)
	}{
		{name: "unknown routing code", modify: func(reg *entities.Registration) { reg.RoutingCode = "XXXX0001" }},
		{name: "short routing code", modify: func(reg *entities.Registration) { reg.RoutingCode = "HD" }},
		{name: "missing name", modify: func(reg *entities.Registration) { reg.Name = "" }},
		{name: "missing secret", modify: func(reg *entities.Registration) { reg.Secret = "" }},
		{name: "negative balance", modify: func(reg *entities.Registration) { reg.InitialBalance = decimal.NewFromInt(-1) }},
		{name: "missing pin", modify: func(reg *entities.Registration) { reg.PIN = "" }},
		{name: "missing contact", modify: func(reg *entities.Registration) { reg.ContactHandle = "" }},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			r := newTestRegistry()
			reg := payerRegistration()
			testRun.modify(&reg)

			_, err := r.RegisterPayer(reg)
			require.ErrorIs(t, err, entities.ErrValidation)
			assert.Empty(t, r.Accounts())
		})
	}
}

func TestRegistry_RoutingCodeResolvesByPrefix(t *testing.T) {
	r := newTestRegistry()
	reg := merchantRegistration()
	reg.RoutingCode = "sbin9999"

	account, err := r.RegisterMerchant(reg)
	require.NoError(t, err)
	assert.Equal(t, "SBI", account.Institution)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := newTestRegistry()

	_, err := r.RegisterPayer(payerRegistration())
	require.NoError(t, err)

	// same name, secret and clock reading derive the same identifier
	_, err = r.RegisterPayer(payerRegistration())
	require.ErrorIs(t, err, entities.ErrDuplicateRegistration)

	_, err = r.RegisterMerchant(merchantRegistration())
	require.NoError(t, err)
	_, err = r.RegisterMerchant(merchantRegistration())
	require.ErrorIs(t, err, entities.ErrDuplicateRegistration)

	assert.Len(t, r.Accounts(), 2)
}

func TestRegistry_DuplicateRegistration_acrossRoles(t *testing.T) {
	r := newTestRegistry()
	merchantReg := merchantRegistration()
	payerReg := payerRegistration()
	payerReg.Name, payerReg.Secret = merchantReg.Name, merchantReg.Secret

	merchant, err := r.RegisterMerchant(merchantReg)
	require.NoError(t, err)
	require.Equal(t, merchant.ID, DeriveIdentifier(payerReg.Name, payerReg.Secret, registeredAt))

	_, err = r.RegisterPayer(payerReg)
	require.ErrorIs(t, err, entities.ErrDuplicateRegistration)
	_, err = r.Payer(merchant.ID)
	require.ErrorIs(t, err, entities.ErrNotFound)

	// the other order is rejected as well
	r = newTestRegistry()
	_, err = r.RegisterPayer(payerReg)
	require.NoError(t, err)
	_, err = r.RegisterMerchant(merchantReg)
	require.ErrorIs(t, err, entities.ErrDuplicateRegistration)
	assert.Len(t, r.Accounts(), 1)
}

func TestRegistry_Credentials(t *testing.T) {
	r := newTestRegistry()
	payer, err := r.RegisterPayer(payerRegistration())
	require.NoError(t, err)
	merchant, err := r.RegisterMerchant(merchantRegistration())
	require.NoError(t, err)

	require.ErrorIs(t, CheckPIN(payer, "0000"), entities.ErrAuthentication)
	require.ErrorIs(t, CheckSecret(payer, "wrong"), entities.ErrAuthentication)
	require.ErrorIs(t, CheckSecret(merchant, "alice-secret"), entities.ErrAuthentication)
	// merchants have no pin
	require.ErrorIs(t, CheckPIN(merchant, ""), entities.ErrAuthentication)
}

func TestRegistry_CreditAndDebit(t *testing.T) {
	r := newTestRegistry()
	payer, err := r.RegisterPayer(payerRegistration())
	require.NoError(t, err)

	require.NoError(t, Debit(payer, decimal.RequireFromString("250.25")))
	assert.Equal(t, "749.75", payer.Balance.String())

	require.NoError(t, Credit(payer, decimal.RequireFromString("0.25")))
	assert.Equal(t, "750", payer.Balance.String())

	err = Debit(payer, decimal.NewFromInt(751))
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)
	assert.Equal(t, "750", payer.Balance.String())

	// exact balance is allowed
	require.NoError(t, Debit(payer, decimal.NewFromInt(750)))
	assert.True(t, payer.Balance.IsZero())

	require.ErrorIs(t, Credit(payer, decimal.Zero), entities.ErrValidation)
	require.ErrorIs(t, Debit(payer, decimal.NewFromInt(-5)), entities.ErrValidation)
}

func TestRegistry_UnknownLookups(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Payer("missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
	_, err = r.PayerByLinkingToken("missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
	_, err = r.Merchant("missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
}

func TestRegistry_RestoreRoundTrip(t *testing.T) {
	r := newTestRegistry()
	payer, err := r.RegisterPayer(payerRegistration())
	require.NoError(t, err)
	merchant, err := r.RegisterMerchant(merchantRegistration())
	require.NoError(t, err)

	restored := newTestRegistry()
	require.NoError(t, restored.Restore(r.Accounts()))

	got, err := restored.PayerByLinkingToken(payer.LinkingToken)
	require.NoError(t, err)
	assert.Equal(t, payer.ID, got.ID)
	assert.NoError(t, CheckPIN(got, "1234"))

	gotMerchant, err := restored.Merchant(merchant.ID)
	require.NoError(t, err)
	assert.True(t, gotMerchant.Balance.Equal(merchant.Balance))

	// restored accounts are independent copies
	require.NoError(t, Credit(gotMerchant, decimal.NewFromInt(1)))
	assert.Equal(t, "500", merchant.Balance.String())
}

func TestRegistry_Restore_sharedIdentifier(t *testing.T) {
	r := newTestRegistry()
	err := r.Restore([]entities.Account{
		{ID: "4e4b2ba81ce5d7fd", Role: entities.RolePayer},
		{ID: "4e4b2ba81ce5d7fd", Role: entities.RoleMerchant},
	})
	require.ErrorIs(t, err, entities.ErrDuplicateRegistration)
}

func TestRegistry_Restore_unknownRole(t *testing.T) {
	r := newTestRegistry()
	err := r.Restore([]entities.Account{{ID: "x", Role: "auditor"}})
	require.ErrorIs(t, err, entities.ErrValidation)
}
