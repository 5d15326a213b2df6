package services

var ErrorMessage = errorMessage
