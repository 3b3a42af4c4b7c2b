// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/contracts-hub/internal/contracts"
	"github.com/contracts-hub/internal/excel"
)

var (
	outputDir = flag.String("output", "./inbox", "Inbox directory to write demo workbooks into")
	files     = flag.Int("files", 3, "Number of workbooks")
	rows      = flag.Int("rows", 5, "Contracts per workbook")
)

var organizations = []string{
	"ООО Ромашка",
	"АО Северный ветер",
	"ИП Кузнецов",
	"ООО Техснаб",
	"ГБУ Городская больница",
	"ООО Вектор",
}

func main() {
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	fmt.Printf("Seeding %d workbook(s) into %s\n", *files, *outputDir)

	today := time.Now()
	for f := 0; f < *files; f++ {
		list := make([]contracts.Contract, 0, *rows)
		for r := 0; r < *rows; r++ {
			n := f*(*rows) + r
			// Spread expirations so active, expiring and expired all show up.
			expires := today.AddDate(0, 0, (n%4-1)*20)
			list = append(list, contracts.Contract{
				OrganizationName: organizations[n%len(organizations)],
				ContractNumber:   fmt.Sprintf("Д-%03d/%d", n+1, today.Year()),
				ContractDate:     today.AddDate(-1, 0, 0).Format("02.01.2006"),
				ExpirationDate:   expires.Format("02.01.2006"),
				Amount:           fmt.Sprintf("%d", (n+1)*15000),
				ContactPerson:    "Иванов И.И.",
				ContactPhone:     fmt.Sprintf("+7 900 000-00-%02d", n%100),
			})
		}

		path := filepath.Join(*outputDir, fmt.Sprintf("demo_%02d.xlsx", f+1))
		if err := writeWorkbook(path, list); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("  %s (%d contracts)\n", path, len(list))
	}

	fmt.Println("Done. Point the agent's inbox.paths at this directory to import them.")
}

// writeWorkbook writes to a temporary name first so a watching agent only
// sees the finished file
func writeWorkbook(path string, list []contracts.Contract) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := excel.Export(out, list); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
