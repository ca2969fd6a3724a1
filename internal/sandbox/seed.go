package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/s3client"
	"github.com/kuitang/carsphere-qa/internal/testdata"
)

type seedUser struct {
	username, password, first, last, role string
}

var seedUsers = []seedUser{
	{"admin", "admin", "Administrator", "Manager", db.RoleAdmin},
	{"user3", "user3", "user3", "user3", db.RoleUser},
}

var seedCars = []db.NewCar{
	{Make: "Toyota", Model: "Corolla", Year: 2019, Director: "Akio Ito", MainSettings: "Hybrid, automatic", Description: "Reliable daily driver with a full service history."},
	{Make: "Ford", Model: "Mustang", Year: 2021, Director: "Jim Farley", MainSettings: "V8, manual", Description: "Coupe in race red. Garage kept."},
	{Make: "BMW", Model: "X5", Year: 2020, Director: "Oliver Zipse", MainSettings: "Diesel, xDrive", Description: "Family SUV with panoramic roof."},
	{Make: "Honda", Model: "Civic", Year: 2018, Director: "Toshihiro Mibe", MainSettings: "Petrol, CVT", Description: "Economical hatchback, one owner."},
	{Make: "Audi", Model: "A4", Year: 2022, Director: "Markus Duesmann", MainSettings: "Quattro, S tronic", Description: "Executive saloon with **virtual cockpit**."},
	{Make: "Kia", Model: "EV6", Year: 2023, Director: "Ho Sung Song", MainSettings: "Electric, AWD", Description: "Long range battery and fast charging."},
	{Make: "Volvo", Model: "XC60", Year: 2017, Director: "Hakan Samuelsson", MainSettings: "Petrol, automatic", Description: "Safe and comfortable crossover."},
}

// seed creates the demo accounts and catalog on an empty store.
func (s *Server) seed(ctx context.Context) error {
	var admin *db.User
	for _, su := range seedUsers {
		hash, err := s.hasher.HashPassword(su.password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", su.username, err)
		}
		u, err := s.store.CreateUser(ctx, db.User{
			Username:     su.username,
			PasswordHash: hash,
			FirstName:    su.first,
			LastName:     su.last,
			Role:         su.role,
		})
		if errors.Is(err, db.ErrUsernameTaken) {
			// Already seeded.
			return nil
		}
		if err != nil {
			return fmt.Errorf("create user %s: %w", su.username, err)
		}
		if u.IsAdmin() && admin == nil {
			admin = u
		}
	}

	for i, car := range seedCars {
		car.OwnerID = admin.ID
		car.ImageKey = s3client.SeedCoverKey(i + 1)
		if err := s.seedCover(ctx, car.ImageKey, i); err != nil {
			return err
		}
		if _, err := s.store.CreateCar(ctx, car); err != nil {
			return fmt.Errorf("create seed car %s: %w", car.Make, err)
		}
	}
	s.log.Info("seeded", "users", len(seedUsers), "cars", len(seedCars))
	return nil
}

// seedCover uploads the i-th seed cover unless a shared bucket already holds it.
func (s *Server) seedCover(ctx context.Context, key string, i int) error {
	ok, err := s.photos.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check seed image: %w", err)
	}
	if ok {
		return nil
	}
	body, err := testdata.Render(fmt.Sprintf("seed-car-%d", i), testdata.FormatJPEG)
	if err != nil {
		return err
	}
	cover, err := s3client.NewCover(body)
	if err != nil {
		return fmt.Errorf("seed image: %w", err)
	}
	cover.Key = key
	if err := s.photos.Put(ctx, cover); err != nil {
		return fmt.Errorf("store seed image: %w", err)
	}
	return nil
}
