package main

import (
	"encoding/csv"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

func listCardsHandler(c *gin.Context) {
	cards, err := models.ListCards(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cards)
}

// importCardsHandler accepts either an uploaded .csv/.xlsx file with a
// "numero" column (optional "titular"), or a pasted newline-separated
// list in the "lista_cartoes" form field.
func importCardsHandler(c *gin.Context) {
	var inputs []*models.NewCard

	file, header, err := c.Request.FormFile("file")
	if err == nil {
		defer file.Close()
		inputs, err = parseCardFile(file, header.Filename)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		pasted := c.PostForm("lista_cartoes")
		if strings.TrimSpace(pasted) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file or lista_cartoes is required"})
			return
		}
		for _, number := range utils.SplitAndTrim(pasted, "\n") {
			inputs = append(inputs, &models.NewCard{Number: number})
		}
	}

	cards, err := models.CreateCards(c.Request.Context(), inputs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(cards), "cards": cards})
}

func parseCardFile(file multipart.File, filename string) ([]*models.NewCard, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return parseCardCsv(file)
	case ".xlsx":
		return parseCardXlsx(file)
	default:
		return nil, errors.New("unsupported file type, expected .csv or .xlsx")
	}
}

// cardColumns locates the "numero" and optional "titular" headers,
// case-insensitively. Returns -1 for a missing titular column.
func cardColumns(headerRow []string) (numberCol int, titularCol int, err error) {
	numberCol, titularCol = -1, -1
	for i, cell := range headerRow {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "numero", "number":
			numberCol = i
		case "titular":
			titularCol = i
		}
	}
	if numberCol == -1 {
		return 0, 0, errors.New(`missing required column "numero"`)
	}
	return numberCol, titularCol, nil
}

func parseCardCsv(r io.Reader) ([]*models.NewCard, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty file")
	}

	numberCol, titularCol, err := cardColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var inputs []*models.NewCard
	for _, row := range rows[1:] {
		if numberCol >= len(row) {
			continue
		}
		input := &models.NewCard{Number: row[numberCol]}
		if titularCol >= 0 && titularCol < len(row) {
			input.Titular = row[titularCol]
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func parseCardXlsx(r io.Reader) ([]*models.NewCard, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("empty workbook")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty file")
	}

	numberCol, titularCol, err := cardColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var inputs []*models.NewCard
	for _, row := range rows[1:] {
		if numberCol >= len(row) {
			continue
		}
		input := &models.NewCard{Number: row[numberCol]}
		if titularCol >= 0 && titularCol < len(row) {
			input.Titular = row[titularCol]
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func deleteCardHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return
	}

	card, err := models.DeleteCard(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, card)
}
