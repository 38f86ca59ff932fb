package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type WeaponType string

const (
	Revolver      WeaponType = "revolver"
	Pistol        WeaponType = "pistol"
	SubMachineGun WeaponType = "sub_machine_gun"
	Carbine       WeaponType = "carbine"
	Rifle         WeaponType = "rifle"
	Shotgun       WeaponType = "shotgun"
)

var weaponTypes = []WeaponType{Revolver, Pistol, SubMachineGun, Carbine, Rifle, Shotgun}

// ParseWeaponType acepta mayúsculas o minúsculas ("SUB_MACHINE_GUN", "rifle").
func ParseWeaponType(s string) (WeaponType, error) {
	v := WeaponType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range weaponTypes {
		if v == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown weapon type %q", ErrInvalidArgument, s)
}

type Gun struct {
	ID       string          `json:"id"`
	Producer string          `json:"producer"`
	Model    string          `json:"model"`
	Type     WeaponType      `json:"type"`
	Caliber  string          `json:"caliber"`
	Weight   float64         `json:"weight"`
	Length   int             `json:"length"`
	Amount   int             `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	Picture  string          `json:"picture"`
}

func (g Gun) validate() error {
	if strings.TrimSpace(g.Producer) == "" || strings.TrimSpace(g.Model) == "" {
		return fmt.Errorf("%w: producer and model are required", ErrInvalidArgument)
	}
	if _, err := ParseWeaponType(string(g.Type)); err != nil {
		return err
	}
	if g.Amount < 0 || g.Price.IsNegative() || g.Weight < 0 || g.Length < 0 {
		return fmt.Errorf("%w: amount, price, weight and length must not be negative", ErrInvalidArgument)
	}
	return nil
}

// Ammo stock is informational: lendings read its price but never its amount.
type Ammo struct {
	ID      string          `json:"id"`
	Caliber string          `json:"caliber"`
	Amount  int             `json:"amount"`
	Price   decimal.Decimal `json:"price"`
	Picture string          `json:"picture"`
}

func (a Ammo) validate() error {
	if strings.TrimSpace(a.Caliber) == "" {
		return fmt.Errorf("%w: caliber is required", ErrInvalidArgument)
	}
	if a.Amount < 0 || a.Price.IsNegative() {
		return fmt.Errorf("%w: amount and price must not be negative", ErrInvalidArgument)
	}
	return nil
}

// LendingKey identifies a lending; a user holds at most one lending per gun/ammo pair.
type LendingKey struct {
	UserID string `json:"userId"`
	GunID  string `json:"gunId"`
	AmmoID string `json:"ammoId"`
}

func (k LendingKey) String() string { return k.UserID + "/" + k.GunID + "/" + k.AmmoID }

func (k LendingKey) validate() error {
	if k.UserID == "" || k.GunID == "" || k.AmmoID == "" {
		return fmt.Errorf("%w: user, gun and ammo ids are required", ErrInvalidArgument)
	}
	return nil
}

type Lending struct {
	UserID          string          `json:"userId"`
	GunID           string          `json:"gunId"`
	AmmoID          string          `json:"ammoId"`
	AmmoAmount      int             `json:"ammoAmount"`
	ReservationDate time.Time       `json:"reservationDate"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
}

func (l Lending) Key() LendingKey {
	return LendingKey{UserID: l.UserID, GunID: l.GunID, AmmoID: l.AmmoID}
}

// TotalPrice is the gun price plus the price of every requested round.
func TotalPrice(gunPrice, ammoPrice decimal.Decimal, ammoAmount int) decimal.Decimal {
	return gunPrice.Add(ammoPrice.Mul(decimal.NewFromInt(int64(ammoAmount))))
}

type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phoneNumber"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
